// Command benchtool drives a fixed insert/select workload against a
// cluster and reports per-request latency, for profiling the driver
// itself rather than exercising application logic.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/profile"

	scylla "github.com/scylladb/scylla-go-driver"
)

const (
	insertStmt = "INSERT INTO benchks.benchtab (pk, v1, v2) VALUES (?, ?, ?)"
	selectStmt = "SELECT v1, v2 FROM benchks.benchtab WHERE pk = ?"
	samples    = 20_000
)

type workload int

const (
	inserts workload = iota
	selects
	mixed
)

func parseWorkload(s string) (workload, error) {
	switch strings.ToLower(s) {
	case "inserts":
		return inserts, nil
	case "selects":
		return selects, nil
	case "mixed":
		return mixed, nil
	default:
		return 0, fmt.Errorf("unknown workload %q (want inserts, selects, or mixed)", s)
	}
}

type config struct {
	nodes       string
	workloadStr string
	workload    workload
	concurrency int64
	tasks       int64
	batchSize   int64
	dontPrepare bool
	profileCPU  bool
	profileMem  bool
}

func readConfig() config {
	var cfg config
	flag.StringVar(&cfg.nodes, "nodes", "127.0.0.1:9042", "comma-separated contact points")
	flag.StringVar(&cfg.workloadStr, "workload", "mixed", "inserts, selects, or mixed")
	flag.Int64Var(&cfg.concurrency, "concurrency", 256, "number of concurrent workers")
	flag.Int64Var(&cfg.tasks, "tasks", 1_000_000, "total number of partitions to touch")
	flag.Int64Var(&cfg.batchSize, "batch-size", 1000, "partitions claimed per worker iteration")
	flag.BoolVar(&cfg.dontPrepare, "dont-prepare", false, "skip keyspace/table setup (and select seeding)")
	flag.BoolVar(&cfg.profileCPU, "profile-cpu", false, "write a CPU profile")
	flag.BoolVar(&cfg.profileMem, "profile-mem", false, "write a memory profile")
	flag.Parse()

	w, err := parseWorkload(cfg.workloadStr)
	if err != nil {
		log.Fatal(err)
	}
	cfg.workload = w
	return cfg
}

func main() {
	cfg := readConfig()
	log.Printf("benchmark configuration: %#v\n", cfg)

	if cfg.profileCPU && cfg.profileMem {
		log.Fatal("select one profile type")
	}
	if cfg.profileCPU {
		log.Println("running with CPU profiling")
		defer profile.Start(profile.CPUProfile).Stop()
	}
	if cfg.profileMem {
		log.Println("running with memory profiling")
		defer profile.Start(profile.MemProfile).Stop()
	}

	ctx := context.Background()
	hosts := strings.Split(cfg.nodes, ",")
	sessionCfg := scylla.DefaultSessionConfig("", hosts...)
	session, err := scylla.NewSession(ctx, sessionCfg)
	if err != nil {
		log.Fatal(err)
	}
	defer session.Close()

	if !cfg.dontPrepare {
		prepareKeyspaceAndTable(ctx, session)
	}
	if cfg.workload == selects && !cfg.dontPrepare {
		prepareSelectsBenchmark(ctx, session, cfg)
	}

	log.Println("starting the benchmark")
	selectCh := make(chan time.Duration, 2*samples)
	insertCh := make(chan time.Duration, 2*samples)

	var nextBatchStart int64
	var wg sync.WaitGroup
	startTime := time.Now()

	for i := int64(0); i < cfg.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runWorker(ctx, session, cfg, &nextBatchStart, selectCh, insertCh)
		}()
	}
	wg.Wait()

	benchTime := time.Since(startTime)
	fmt.Printf("time %d\n", benchTime.Milliseconds())
	printLatencyInfo("select", selectCh)
	printLatencyInfo("insert", insertCh)
	log.Printf("finished\nbenchmark time: %d ms\n", benchTime.Milliseconds())
}

func runWorker(ctx context.Context, session *scylla.Session, cfg config, nextBatchStart *int64, selectCh, insertCh chan time.Duration) {
	insertQ := session.Query(insertStmt)
	selectQ := session.Query(selectStmt)

	for {
		curBatchStart := atomic.AddInt64(nextBatchStart, cfg.batchSize) - cfg.batchSize
		if curBatchStart >= cfg.tasks {
			return
		}
		curBatchEnd := min64(curBatchStart+cfg.batchSize, cfg.tasks)

		for pk := curBatchStart; pk < curBatchEnd; pk++ {
			sample := rand.Int63n(cfg.tasks) < samples

			if cfg.workload == inserts || cfg.workload == mixed {
				q := insertQ
				q.BindInt64(0, pk).BindInt64(1, 2*pk).BindInt64(2, 3*pk)
				start := time.Now()
				if _, err := q.Exec(ctx); err != nil {
					panic(err)
				}
				if sample {
					insertCh <- time.Since(start)
				}
			}

			if cfg.workload == selects || cfg.workload == mixed {
				q := selectQ
				q.BindInt64(0, pk)
				start := time.Now()
				res, err := q.Exec(ctx)
				if err != nil {
					panic(err)
				}
				if len(res.Rows) != 1 {
					panic("bad data")
				}
				if sample {
					selectCh <- time.Since(start)
				}
			}
		}
	}
}

func printLatencyInfo(name string, ch chan time.Duration) {
	cnt := len(ch)
	for i := 0; i < cnt; i++ {
		fmt.Printf("%s %d\n", name, (<-ch).Nanoseconds())
	}
}

func awaitSchemaAgreement() {
	// TODO: drive this off the cluster's actual schema-agreement poll
	// once Session exposes it, instead of a fixed sleep.
	time.Sleep(time.Second)
}

func prepareKeyspaceAndTable(ctx context.Context, session *scylla.Session) {
	must(session.Query("DROP KEYSPACE IF EXISTS benchks").Exec(ctx))
	awaitSchemaAgreement()

	must(session.Query("CREATE KEYSPACE IF NOT EXISTS benchks WITH REPLICATION = {'class': 'SimpleStrategy', 'replication_factor': 1}").Exec(ctx))
	awaitSchemaAgreement()

	must(session.Query("CREATE TABLE IF NOT EXISTS benchks.benchtab (pk bigint PRIMARY KEY, v1 bigint, v2 bigint)").Exec(ctx))
	awaitSchemaAgreement()
}

func prepareSelectsBenchmark(ctx context.Context, session *scylla.Session, cfg config) {
	log.Println("preparing a selects benchmark (inserting values)...")

	var nextBatchStart int64
	var wg sync.WaitGroup
	workers := max64(1024, cfg.concurrency)
	for i := int64(0); i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			insertQ := session.Query(insertStmt)
			for {
				curBatchStart := atomic.AddInt64(&nextBatchStart, cfg.batchSize) - cfg.batchSize
				if curBatchStart >= cfg.tasks {
					return
				}
				curBatchEnd := min64(curBatchStart+cfg.batchSize, cfg.tasks)
				for pk := curBatchStart; pk < curBatchEnd; pk++ {
					insertQ.BindInt64(0, pk).BindInt64(1, 2*pk).BindInt64(2, 3*pk)
					must(insertQ.Exec(ctx))
				}
			}
		}()
	}
	wg.Wait()
}

func must(_ scylla.Result, err error) {
	if err != nil {
		panic(err)
	}
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b int64) int64 {
	if a < b {
		return b
	}
	return a
}
