package providers

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"

	"dal/runtime-go/pkg/runtime"
)

const CryptoNamespace = "crypto"

const maxRandomBytes = 1024

var hashers = map[string]func() hash.Hash{
	"sha256":    sha256.New,
	"sha512":    sha512.New,
	"sha3-256":  sha3.New256,
	"sha3-512":  sha3.New512,
	"keccak256": sha3.NewLegacyKeccak256,
	"blake2b": func() hash.Hash {
		h, _ := blake2b.New256(nil)
		return h
	},
}

// HashAlgorithms lists the names accepted by Hash.
func HashAlgorithms() []string {
	out := make([]string, 0, len(hashers))
	for name := range hashers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func newHasher(algorithm string) (func() hash.Hash, error) {
	alg := strings.ToLower(strings.ReplaceAll(algorithm, "_", "-"))
	if alg == "" {
		alg = "sha256"
	}
	h, ok := hashers[alg]
	if !ok {
		return nil, fmt.Errorf("crypto: unknown hash algorithm %q", algorithm)
	}
	return h, nil
}

// Hash returns the lowercase hex digest of data.
func Hash(data, algorithm string) (string, error) {
	newH, err := newHasher(algorithm)
	if err != nil {
		return "", err
	}
	h := newH()
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil)), nil
}

func HMAC(key, msg, algorithm string) (string, error) {
	newH, err := newHasher(algorithm)
	if err != nil {
		return "", err
	}
	mac := hmac.New(newH, []byte(key))
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Crypto backs the crypto namespace.
type Crypto struct{}

func (Crypto) Namespace() string { return CryptoNamespace }

func (Crypto) Builtins() []runtime.Builtin {
	fail := func(fn string, err error) error { return providerError(CryptoNamespace, fn, err) }
	return []runtime.Builtin{
		{
			Name: "hash", MinArgs: 1, MaxArgs: 2,
			Params: []runtime.Kind{runtime.KindString, runtime.KindString},
			Fn: func(_ *runtime.NativeCall, args []runtime.Value) (runtime.Value, error) {
				sum, err := Hash(str(args, 0), str(args, 1))
				if err != nil {
					return nil, fail("hash", err)
				}
				return runtime.String(sum), nil
			},
		},
		{
			Name: "hmac", MinArgs: 2, MaxArgs: 3,
			Params: []runtime.Kind{runtime.KindString, runtime.KindString, runtime.KindString},
			Fn: func(_ *runtime.NativeCall, args []runtime.Value) (runtime.Value, error) {
				mac, err := HMAC(str(args, 0), str(args, 1), str(args, 2))
				if err != nil {
					return nil, fail("hmac", err)
				}
				return runtime.String(mac), nil
			},
		},
		runtime.Fixed("verify_hmac", 3, func(_ *runtime.NativeCall, args []runtime.Value) (runtime.Value, error) {
			want, err := HMAC(str(args, 0), str(args, 1), "sha256")
			if err != nil {
				return nil, fail("verify_hmac", err)
			}
			return runtime.Bool(hmac.Equal([]byte(want), []byte(strings.ToLower(str(args, 2))))), nil
		}, runtime.KindString, runtime.KindString, runtime.KindString),
		runtime.Fixed("uuid", 0, func(*runtime.NativeCall, []runtime.Value) (runtime.Value, error) {
			return runtime.String(uuid.NewString()), nil
		}),
		runtime.Fixed("random_hex", 1, func(_ *runtime.NativeCall, args []runtime.Value) (runtime.Value, error) {
			n := integer(args, 0)
			if n < 0 || n > maxRandomBytes {
				return nil, runtime.NewError(runtime.TypeMismatch, "crypto::random_hex: byte count must be in [0, %d], got %d", maxRandomBytes, n)
			}
			buf := make([]byte, n)
			if _, err := rand.Read(buf); err != nil {
				return nil, fail("random_hex", err)
			}
			return runtime.String(hex.EncodeToString(buf)), nil
		}, runtime.KindInt),
		runtime.Fixed("algorithms", 0, func(*runtime.NativeCall, []runtime.Value) (runtime.Value, error) {
			return stringList(HashAlgorithms()), nil
		}),
	}
}
