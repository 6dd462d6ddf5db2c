// Package monitor implements the polling loop.
//
// Each cycle loads the page, extracts the element text, compares it with
// the previous observation and sends at most one notification for the
// transition it detects. Evaluate holds the comparison rules as a pure
// function; Monitor wires it to a browser driver, a notifier and the
// state and history stores.
package monitor
