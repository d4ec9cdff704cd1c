// Command batchz-bench generates synthetic load against a batchz engine.
package main

import "github.com/zoobzio/batchz/internal/bench"

func main() {
	bench.Execute()
}
