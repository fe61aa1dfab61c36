//go:build !CONFIG_FLOW_ASSERTIONS
// +build !CONFIG_FLOW_ASSERTIONS

// Package assert: default build has every check compile away to nothing,
// so rpcctx's contract-violation checks cost nothing outside debug builds.
package assert

func Assert(checker func() bool, message string) {
	_ = checker
	_ = message
}

func AssertMsg(condition bool, message string) {
	_ = condition
	_ = message
}

func Assertf(checker func() bool, format string, args ...interface{}) {
	_ = checker
	_ = format
	_ = args
}
