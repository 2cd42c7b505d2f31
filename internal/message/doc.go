// Package message turns effective campaign content into the ordered list of
// provider calls for one recipient: an optional media step, text chunks that
// respect the provider's length limits, and an inline keyboard with one
// button per priced plan.
//
// Everything here is pure; sending lives in the worker and telegram packages.
package message
