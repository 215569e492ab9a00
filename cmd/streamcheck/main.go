// streamcheck runs a stream workload on the host platform and reports the results and the executor metrics.
//
// Each round, every worker borrows a sub-stream, fills its device buffer, and the parent stream waits for it,
// copies the buffer back and verifies it in a host callback.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/gomlx/streamexecutor/host"
	"github.com/gomlx/streamexecutor/stream"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"k8s.io/klog/v2"
)

var (
	flagConfig  = flag.String("config", "", "YAML file with the host platform configuration. If empty the default configuration is used.")
	flagSize    = flag.Uint64("size", 4096, "Size in bytes of each worker's device buffer; must be a multiple of 4")
	flagWorkers = flag.Int("workers", 4, "Number of sub-streams used concurrently")
	flagRounds  = flag.Int("rounds", 10, "Number of rounds")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `streamcheck exercises streams, sub-streams, events and host callbacks on the host platform.

$ streamcheck -config=host.yaml -workers=8 -rounds=100

Usage:
`)
		flag.PrintDefaults()
	}
	klog.InitFlags(flag.CommandLine)
	flag.Parse()

	if *flagSize == 0 || *flagSize%4 != 0 || *flagWorkers <= 0 || *flagRounds <= 0 {
		fmt.Fprintln(os.Stderr, "-size must be a positive multiple of 4, -workers and -rounds must be positive.")
		fmt.Fprintln(os.Stderr)
		flag.Usage()
		os.Exit(1)
	}

	config := host.DefaultConfig()
	if *flagConfig != "" {
		config = must.M1(host.LoadConfig(*flagConfig))
	}
	registry := prometheus.NewRegistry()
	executor := must.M1(host.New(config, host.WithRegisterer(registry)))
	defer executor.Close()

	parent := stream.New(executor)
	must.M(parent.Initialize(stream.TierPriority(stream.PriorityHighest)))

	buffers := make([]stream.DeviceMemory, *flagWorkers)
	results := make([][]byte, *flagWorkers)
	for ii := range buffers {
		buffers[ii] = must.M1(executor.Allocate(*flagSize))
		results[ii] = make([]byte, *flagSize)
	}

	var verified int
	for round := range *flagRounds {
		subs := make([]*stream.Stream, *flagWorkers)
		for worker := range *flagWorkers {
			sub := must.M1(parent.GetOrCreateSubStream())
			subs[worker] = sub
			value := float32(round**flagWorkers + worker)
			// The buffer is only refilled after the parent copied the previous round out of it.
			must.M(sub.WaitFor(parent))
			must.M(stream.Fill(sub, &buffers[worker], value, int(*flagSize/4)))
			must.M(parent.WaitFor(sub))
			must.M(parent.MemcpyD2H(results[worker], buffers[worker], *flagSize))
			result := results[worker]
			must.M(parent.DoHostCallbackWithStatus(func() error {
				if err := verify(result, value); err != nil {
					return errors.WithMessagef(err, "round %d, worker %d", round, worker)
				}
				verified++
				return nil
			}))
		}
		for _, sub := range subs {
			parent.ReturnSubStream(sub)
		}
	}

	done := executor.NewEvent()
	must.M(parent.RecordEvent(done))
	must.M(done.Await())
	must.M(parent.BlockHostUntilDone())
	fmt.Printf("%s: verified %d buffers of %d bytes with %d sub-streams\n",
		executor.Platform(), verified, *flagSize, parent.NumSubStreams())

	must.M(parent.Destroy())
	for _, mem := range buffers {
		must.M(executor.Deallocate(mem))
	}
	printMetrics(registry)
}

// verify that buf holds only float32 values equal to want.
func verify(buf []byte, want float32) error {
	for ii := 0; ii < len(buf); ii += 4 {
		got := math.Float32frombits(binary.LittleEndian.Uint32(buf[ii:]))
		if got != want {
			return errors.Errorf("value at byte %d is %g, wanted %g", ii, got, want)
		}
	}
	return nil
}

func printMetrics(gatherer prometheus.Gatherer) {
	families := must.M1(gatherer.Gather())
	sort.Slice(families, func(i, j int) bool { return families[i].GetName() < families[j].GetName() })
	fmt.Println("Metrics:")
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			var labels []string
			for _, pair := range metric.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", pair.GetName(), pair.GetValue()))
			}
			fmt.Printf("\t%s{%s} = %g\n", family.GetName(), strings.Join(labels, ","), metricValue(metric))
		}
	}
}

func metricValue(metric *dto.Metric) float64 {
	switch {
	case metric.GetCounter() != nil:
		return metric.GetCounter().GetValue()
	case metric.GetGauge() != nil:
		return metric.GetGauge().GetValue()
	}
	return math.NaN()
}
