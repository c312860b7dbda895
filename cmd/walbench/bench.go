package main

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/debasishg/wal-go/storage/localfile"
	"github.com/debasishg/wal-go/wal"
)

type metrics struct {
	iterations    int64
	totalBytes    int64
	totalDuration time.Duration
	minDuration   time.Duration
	maxDuration   time.Duration
	durations     []time.Duration
	errors        int64
}

type stats struct {
	iterations     int64
	totalBytes     int64
	errors         int64
	minDuration    time.Duration
	maxDuration    time.Duration
	avgDuration    time.Duration
	p50, p95, p99  time.Duration
	totalDuration  time.Duration
	throughputMBps float64
}

func (m *metrics) calculateStats() stats {
	s := stats{
		iterations:    m.iterations,
		totalBytes:    m.totalBytes,
		errors:        m.errors,
		minDuration:   m.minDuration,
		maxDuration:   m.maxDuration,
		totalDuration: m.totalDuration,
	}
	if m.iterations > 0 {
		s.avgDuration = time.Duration(m.totalDuration.Nanoseconds() / m.iterations)
	}
	if len(m.durations) > 0 {
		sorted := make([]time.Duration, len(m.durations))
		copy(sorted, m.durations)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		s.p50 = percentile(sorted, 50)
		s.p95 = percentile(sorted, 95)
		s.p99 = percentile(sorted, 99)
	}
	if m.totalDuration > 0 {
		s.throughputMBps = float64(m.totalBytes) / m.totalDuration.Seconds() / (1024 * 1024)
	}
	return s
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	index := int(float64(len(sorted)) * p / 100.0)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}

func newBenchCommand() *cobra.Command {
	var (
		logPath      string
		segmentSize  int
		numSegments  int
		writeSizeMin int
		writeSizeMax int
		duration     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Write synthetic records to a file-backed log for a fixed duration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(cmd, logPath, segmentSize, numSegments, writeSizeMin, writeSizeMax, duration)
		},
	}

	cmd.Flags().StringVar(&logPath, "log-path", "logs/walbench.log", "backing file path")
	cmd.Flags().IntVar(&segmentSize, "segment-size", 4*1024*1024, "bytes per ring segment")
	cmd.Flags().IntVar(&numSegments, "num-segments", 4, "number of ring segments")
	cmd.Flags().IntVar(&writeSizeMin, "write-min", 64, "minimum record size in bytes")
	cmd.Flags().IntVar(&writeSizeMax, "write-max", 4096, "maximum record size in bytes")
	cmd.Flags().DurationVar(&duration, "duration", 10*time.Second, "benchmark duration")

	return cmd
}

func runBench(cmd *cobra.Command, logPath string, segmentSize, numSegments, writeMin, writeMax int, duration time.Duration) error {
	logger := zerolog.New(cmd.OutOrStdout()).With().Timestamp().Logger().Level(zerolog.WarnLevel)

	storageCfg := localfile.DefaultConfig(logPath)
	backend, err := localfile.Open(storageCfg, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer backend.Close()

	log, err := wal.New(wal.Config{
		NumSegments: numSegments,
		SegmentSize: segmentSize,
		Storage:     backend,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("create log: %w", err)
	}

	rng := rand.New(rand.NewSource(1))
	buffers := make([][]byte, 32)
	for i := range buffers {
		size := writeMin
		if writeMax > writeMin {
			size += rng.Intn(writeMax - writeMin + 1)
		}
		buf := make([]byte, size)
		rng.Read(buf)
		buffers[i] = buf
	}

	m := &metrics{minDuration: time.Hour}
	ctx := context.Background()
	start := time.Now()
	end := start.Add(duration)
	i := 0

	for time.Now().Before(end) {
		buf := buffers[i%len(buffers)]
		i++

		writeStart := time.Now()
		_, err := log.Write(ctx, buf)
		elapsed := time.Since(writeStart)

		if err != nil {
			m.errors++
			continue
		}
		m.iterations++
		m.totalBytes += int64(len(buf))
		m.totalDuration += elapsed
		m.durations = append(m.durations, elapsed)
		if elapsed < m.minDuration {
			m.minDuration = elapsed
		}
		if elapsed > m.maxDuration {
			m.maxDuration = elapsed
		}
	}

	if _, err := log.Flush(ctx); err != nil {
		return fmt.Errorf("final flush: %w", err)
	}

	printStats(cmd, m.calculateStats(), log.Stats())
	return nil
}

func printStats(cmd *cobra.Command, s stats, ls wal.Stats) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "write-ahead log benchmark results")
	fmt.Fprintf(out, "  iterations:        %d\n", s.iterations)
	fmt.Fprintf(out, "  errors:            %d\n", s.errors)
	fmt.Fprintf(out, "  bytes written:     %d (%.2f MB)\n", s.totalBytes, float64(s.totalBytes)/(1024*1024))
	fmt.Fprintf(out, "  rotations:         %d\n", ls.Rotations)
	fmt.Fprintf(out, "  persist errors:    %d\n", ls.PersistErrors)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  min latency:       %.3f ms\n", s.minDuration.Seconds()*1000)
	fmt.Fprintf(out, "  avg latency:       %.3f ms\n", s.avgDuration.Seconds()*1000)
	fmt.Fprintf(out, "  p50 latency:       %.3f ms\n", s.p50.Seconds()*1000)
	fmt.Fprintf(out, "  p95 latency:       %.3f ms\n", s.p95.Seconds()*1000)
	fmt.Fprintf(out, "  p99 latency:       %.3f ms\n", s.p99.Seconds()*1000)
	fmt.Fprintf(out, "  max latency:       %.3f ms\n", s.maxDuration.Seconds()*1000)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  throughput:        %.2f MB/s\n", s.throughputMBps)
}
