// Package encoding implements the binary format of archived training
// samples.
//
// A sample is a list of labeled grams. Labels are dictionary encoded per
// sample, row timestamps use delta-of-delta encoding and every feature
// column is compressed with XOR float encoding (Gorilla).
package encoding
