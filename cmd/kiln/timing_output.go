package main

import (
	"fmt"
	"io"
	"time"

	"kiln/internal/buildpipeline"
	"kiln/internal/observ"
)

func printStageTimings(out io.Writer, timings buildpipeline.Timings, timer *observ.Timer) {
	if out == nil {
		return
	}
	for _, stage := range []buildpipeline.Stage{
		buildpipeline.StageScan,
		buildpipeline.StageDigest,
		buildpipeline.StageCompile,
		buildpipeline.StageReconcile,
	} {
		if timings.Has(stage) {
			fmt.Fprintf(out, "%-10s %8.1f ms\n", stage, toMillis(timings.Duration(stage)))
		}
	}
	if timer != nil {
		fmt.Fprint(out, timer.Summary())
	}
}

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
