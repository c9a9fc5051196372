// Package interpreter executes DAL programs. It walks the AST produced by the
// external parser, routes calls through a dispatch table of user functions,
// service methods and namespaced built-ins, and wraps attributed calls with
// authentication, reentrancy, limit, transaction and audit enforcement.
package interpreter
