package common

import (
	"log"
	"time"
)

type Benchmarker struct {
	start time.Time
	label string
}

func RuntimeBenchmark[T any](label string, functionUnderTest func() (T, error)) (T, error) {
	start := time.Now()
	result, err := functionUnderTest()
	elapsed := time.Since(start)
	log.Printf("[BENCH] %s took %s", label, elapsed)
	return result, err
}

func NewBenchmarker(label string) *Benchmarker {
	return &Benchmarker{time.Now(), label}
}

func (benchmarker *Benchmarker) Elapsed() time.Duration {
	return time.Since(benchmarker.start)
}

func (benchmarker *Benchmarker) Close() {
	log.Printf("[BENCH] %s took %s", benchmarker.label, benchmarker.Elapsed())
}
