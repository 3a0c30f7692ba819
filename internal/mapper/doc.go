// Package mapper translates client subscription requests into replay filters.
//
// Each exchange speaks its own subscription schema. A Mapper recognizes the
// exchange's subscribe messages and converts them to history.Filter values;
// everything else a client sends is treated as noise.
package mapper
