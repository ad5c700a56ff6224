// Package audience estimates how many users a targeting rule reaches and
// manages saved audience segments.
//
// The estimator is a pure function: every populated filter applies a fixed
// multiplicative discount to a base population and the result is truncated
// to a whole number of users. The segment service layers persistence on top
// of it through the Repository interface defined in repository.go.
package audience
