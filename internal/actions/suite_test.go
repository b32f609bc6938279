package actions_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/imamik/shipyard/internal/actions"
	"github.com/imamik/shipyard/internal/config"
	"github.com/imamik/shipyard/internal/failure"
	"github.com/imamik/shipyard/internal/observe"
	"github.com/imamik/shipyard/internal/pipeline"
	"github.com/imamik/shipyard/internal/runstore"
)

// TestShellPipelines runs whole pipelines of shell stages against a file run
// store, the way the run command wires them.
func TestShellPipelines(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Shell Pipeline Suite")
}

var _ = Describe("Shell pipelines", func() {
	var (
		dir      string
		store    *runstore.Store
		recorder *observe.Recorder
		ctx      context.Context
		cancel   context.CancelFunc
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		Expect(os.Mkdir(filepath.Join(dir, "work"), 0o750)).To(Succeed())
		store = runstore.New(runstore.NewFileBackend(filepath.Join(dir, ".shipyard")))
		recorder = observe.NewRecorder()
		ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
		DeferCleanup(cancel)
	})

	load := func(body string) *config.Pipeline {
		path := filepath.Join(dir, "shipyard.yaml")
		Expect(os.WriteFile(path, []byte(body), 0o600)).To(Succeed())
		p, err := config.LoadFile(path)
		Expect(err).NotTo(HaveOccurred())
		return p
	}

	orchestrator := func(p *config.Pipeline) *pipeline.Orchestrator {
		return pipeline.New(actions.New(p),
			pipeline.WithStore(store),
			pipeline.WithObserver(recorder),
			pipeline.WithTimeouts(&config.Timeouts{
				StageDefault: time.Minute,
				CancelPoll:   20 * time.Millisecond,
				QueuePoll:    20 * time.Millisecond,
			}),
		)
	}

	stageStatus := func(rec *runstore.Record, name string) runstore.StageStatus {
		for _, s := range rec.Stages {
			if s.Name == name {
				return s.Status
			}
		}
		return ""
	}

	Context("when every stage succeeds", func() {
		It("passes run context between dependent stages", func() {
			p := load(`id: web
stages:
  - name: stamp
    action: shell
    dir: work
    run: echo "build $SHIPYARD_BUILD_NUMBER" > stamp.txt
  - name: check
    action: shell
    dir: work
    run: cat stamp.txt
    needs: [stamp]
`)

			rec, err := orchestrator(p).Trigger(ctx, p)
			Expect(err).NotTo(HaveOccurred())

			By("finishing the run successfully")
			Expect(rec.Status).To(Equal(runstore.StatusSucceeded))
			Expect(rec.BuildNumber).To(Equal(1))
			Expect(stageStatus(rec, "check")).To(Equal(runstore.StageSucceeded))
			Expect(rec.Stages[1].Output).To(ContainSubstring("build 1"))
			Expect(filepath.Join(dir, "work", "stamp.txt")).To(BeARegularFile())

			By("persisting the record")
			stored, err := store.Load(ctx, rec.RunID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Status).To(Equal(runstore.StatusSucceeded))
			Expect(recorder.StageOrder(observe.EventStageStarted)).To(Equal([]string{"stamp", "check"}))
		})

		It("numbers builds across orchestrators sharing a store", func() {
			p := load(`id: web
stages:
  - name: noop
    action: shell
    run: "true"
`)

			first, err := orchestrator(p).Trigger(ctx, p)
			Expect(err).NotTo(HaveOccurred())
			second, err := orchestrator(p).Trigger(ctx, p)
			Expect(err).NotTo(HaveOccurred())

			Expect(first.BuildNumber).To(Equal(1))
			Expect(second.BuildNumber).To(Equal(2))

			runs, err := store.List(ctx, "web")
			Expect(err).NotTo(HaveOccurred())
			Expect(runs).To(HaveLen(2))
		})
	})

	Context("when a stage fails", func() {
		It("skips its dependents and records the failure kind", func() {
			p := load(`id: web
stages:
  - name: test
    action: shell
    run: echo "3 tests failed"; exit 3
  - name: package
    action: shell
    run: "true"
    needs: [test]
`)

			rec, err := orchestrator(p).Trigger(ctx, p)
			Expect(err).NotTo(HaveOccurred())

			Expect(rec.Status).To(Equal(runstore.StatusFailed))
			Expect(rec.FailedStage).To(Equal("test"))
			Expect(stageStatus(rec, "package")).To(Equal(runstore.StageSkipped))
			Expect(rec.Stages[0].ErrorKind).To(Equal(failure.KindExecutionError))
			Expect(rec.Stages[0].Output).To(ContainSubstring("3 tests failed"))
		})
	})

	Context("when a cancel is requested through the store", func() {
		It("stops the running stage and cancels the run", func() {
			p := load(`id: web
stages:
  - name: wait
    action: shell
    run: sleep 30
  - name: after
    action: shell
    run: "true"
    needs: [wait]
`)

			run, err := orchestrator(p).Start(ctx, p)
			Expect(err).NotTo(HaveOccurred())

			Eventually(func() runstore.StageStatus {
				return stageStatus(run.Snapshot(), "wait")
			}).WithTimeout(5 * time.Second).Should(Equal(runstore.StageRunning))

			_, err = store.RequestCancel(ctx, run.ID())
			Expect(err).NotTo(HaveOccurred())

			rec, err := run.Wait(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Status).To(Equal(runstore.StatusCancelled))
			Expect(stageStatus(rec, "after")).To(Equal(runstore.StageSkipped))
		})
	})
})
