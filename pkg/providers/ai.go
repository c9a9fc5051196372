package providers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"dal/runtime-go/pkg/runtime"
)

const AINamespace = "ai"

// Model produces text for ai::generate.
type Model interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// EchoModel is the offline model. Its answers depend only on the prompt.
type EchoModel struct {
	Name string
}

func (m EchoModel) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := m.Name
	if name == "" {
		name = "mock"
	}
	return fmt.Sprintf("[%s] %s", name, summarize(prompt, 12)), nil
}

// AI backs the ai namespace. Classification and analysis are keyword based.
type AI struct {
	model   Model
	timeout time.Duration
}

func NewAI(model Model, timeout time.Duration) *AI {
	if model == nil {
		model = EchoModel{}
	}
	return &AI{model: model, timeout: timeout}
}

var (
	positiveWords = map[string]bool{
		"good": true, "great": true, "excellent": true, "love": true, "happy": true,
		"profit": true, "gain": true, "success": true, "safe": true, "trusted": true,
	}
	negativeWords = map[string]bool{
		"bad": true, "terrible": true, "hate": true, "loss": true, "scam": true,
		"fraud": true, "fail": true, "risk": true, "hack": true, "angry": true,
	}
	stopWords = map[string]bool{
		"the": true, "a": true, "an": true, "and": true, "or": true, "is": true,
		"are": true, "to": true, "of": true, "in": true, "it": true, "this": true,
	}
)

func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func summarize(text string, n int) string {
	fields := strings.Fields(text)
	if len(fields) <= n {
		return strings.Join(fields, " ")
	}
	return strings.Join(fields[:n], " ") + " ..."
}

// Analysis is the result of ai::analyze.
type Analysis struct {
	Sentiment float64
	Keywords  []string
	Summary   string
}

// Analyze scores sentiment in [0, 1] (0.5 is neutral) and picks up to five
// keywords by frequency.
func Analyze(text string) Analysis {
	ws := words(text)
	pos, neg := 0, 0
	freq := map[string]int{}
	for _, w := range ws {
		switch {
		case positiveWords[w]:
			pos++
		case negativeWords[w]:
			neg++
		}
		if !stopWords[w] && len(w) > 2 {
			freq[w]++
		}
	}
	sentiment := 0.5
	if pos+neg > 0 {
		sentiment = float64(pos) / float64(pos+neg)
	}
	keywords := make([]string, 0, len(freq))
	for w := range freq {
		keywords = append(keywords, w)
	}
	sort.Slice(keywords, func(i, j int) bool {
		if freq[keywords[i]] != freq[keywords[j]] {
			return freq[keywords[i]] > freq[keywords[j]]
		}
		return keywords[i] < keywords[j]
	})
	if len(keywords) > 5 {
		keywords = keywords[:5]
	}
	return Analysis{Sentiment: sentiment, Keywords: keywords, Summary: summarize(text, 20)}
}

// Classify labels input with one of the built-in classifiers: sentiment,
// intent, risk or topic. Unknown classifiers fall back to sentiment.
func Classify(classifier, input string) string {
	a := Analyze(input)
	switch classifier {
	case "intent":
		lower := strings.ToLower(input)
		switch {
		case strings.Contains(lower, "buy"), strings.Contains(lower, "purchase"):
			return "buy_intent"
		case strings.Contains(lower, "sell"):
			return "sell_intent"
		case strings.Contains(lower, "help"), strings.Contains(lower, "?"):
			return "help_intent"
		}
		return "general_intent"
	case "risk":
		switch {
		case a.Sentiment < 0.3:
			return "high_risk"
		case a.Sentiment > 0.7:
			return "low_risk"
		}
		return "medium_risk"
	case "topic":
		if len(a.Keywords) > 0 {
			return a.Keywords[0]
		}
		return "general"
	default:
		switch {
		case a.Sentiment > 0.5:
			return "positive"
		case a.Sentiment < 0.5:
			return "negative"
		}
		return "neutral"
	}
}

func (a *AI) Namespace() string { return AINamespace }

func (a *AI) Builtins() []runtime.Builtin {
	return []runtime.Builtin{
		{
			Name:    "generate",
			MinArgs: 1,
			MaxArgs: 1,
			Params:  []runtime.Kind{runtime.KindString},
			Timeout: a.timeout,
			Fn: func(call *runtime.NativeCall, args []runtime.Value) (runtime.Value, error) {
				prompt := str(args, 0)
				Logger().Debug("ai generate", zap.Int("prompt_length", len(prompt)), zap.String("principal", call.Principal))
				out, err := a.model.Generate(call.Context, prompt)
				if err != nil {
					return nil, err
				}
				return runtime.String(out), nil
			},
		},
		runtime.Fixed("classify", 2, func(_ *runtime.NativeCall, args []runtime.Value) (runtime.Value, error) {
			return runtime.String(Classify(str(args, 0), str(args, 1))), nil
		}, runtime.KindString, runtime.KindString),
		runtime.Fixed("analyze", 1, func(_ *runtime.NativeCall, args []runtime.Value) (runtime.Value, error) {
			res := Analyze(str(args, 0))
			return runtime.NewMap().
				With("sentiment", runtime.Float(res.Sentiment)).
				With("keywords", stringList(res.Keywords)).
				With("summary", runtime.String(res.Summary)), nil
		}, runtime.KindString),
	}
}
