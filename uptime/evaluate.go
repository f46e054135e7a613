package uptime

import "github.com/amartya2002/uptime-monitor/checks"

// Evaluate turns an outcome into the next state of a check and decides
// whether the owner should hear about it. A check is up only when a response
// arrived with one of its success codes. The first run never alerts.
func Evaluate(previous checks.State, hasPriorRun bool, o Outcome, successCodes []int) (checks.State, bool) {
	next := checks.StateDown
	if o.Succeeded() && (checks.Check{SuccessCodes: successCodes}).Accepts(o.StatusCode) {
		next = checks.StateUp
	}
	return next, hasPriorRun && next != previous
}
