// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

package leaderapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	"github.com/juju/worker/v4/workertest"
	gc "gopkg.in/check.v1"

	"github.com/pioreactor/pioreactor/apiserver/leaderapi"
	"github.com/pioreactor/pioreactor/apiserver/params"
	"github.com/pioreactor/pioreactor/core/cluster"
	clusterconfigservice "github.com/pioreactor/pioreactor/domain/clusterconfig/service"
	clusterconfigstate "github.com/pioreactor/pioreactor/domain/clusterconfig/state"
	experimentservice "github.com/pioreactor/pioreactor/domain/experiment/service"
	experimentstate "github.com/pioreactor/pioreactor/domain/experiment/state"
	inventoryservice "github.com/pioreactor/pioreactor/domain/inventory/service"
	inventorystate "github.com/pioreactor/pioreactor/domain/inventory/state"
	logservice "github.com/pioreactor/pioreactor/domain/logs/service"
	logstate "github.com/pioreactor/pioreactor/domain/logs/state"
	timeseriesservice "github.com/pioreactor/pioreactor/domain/timeseries/service"
	timeseriesstate "github.com/pioreactor/pioreactor/domain/timeseries/state"
	"github.com/pioreactor/pioreactor/internal/bus"
	"github.com/pioreactor/pioreactor/internal/database"
	databasetesting "github.com/pioreactor/pioreactor/internal/database/testing"
	"github.com/pioreactor/pioreactor/internal/multicast"
	"github.com/pioreactor/pioreactor/internal/profiles"
	"github.com/pioreactor/pioreactor/internal/taskqueue"
	"github.com/pioreactor/pioreactor/internal/unitclient"
)

// recordedCall is one worker API call seen by the fake caller.
type recordedCall struct {
	Method string
	Unit   string
	Path   string
	Body   []byte
}

type fakeCaller struct {
	mu        sync.Mutex
	calls     []recordedCall
	responses map[string]string
	failUnits map[string]error
}

func (f *fakeCaller) Call(ctx context.Context, method, unit, path string, query url.Values, body, out interface{}) error {
	var raw []byte
	if body != nil {
		raw, _ = json.Marshal(body)
	}
	f.mu.Lock()
	f.calls = append(f.calls, recordedCall{Method: method, Unit: unit, Path: path, Body: raw})
	response, ok := f.responses[path]
	err := f.failUnits[unit]
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if !ok {
		response = `{"status":"ok"}`
	}
	if out != nil {
		return json.Unmarshal([]byte(response), out)
	}
	return nil
}

func (f *fakeCaller) recorded() []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedCall(nil), f.calls...)
}

func (f *fakeCaller) callsTo(path string) []recordedCall {
	var out []recordedCall
	for _, call := range f.recorded() {
		if call.Path == path {
			out = append(out, call)
		}
	}
	return out
}

type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
}

func (f *fakeRunner) run(ctx context.Context, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, args)
	return []byte("synced\n"), nil
}

func (f *fakeRunner) recorded() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.calls...)
}

// timeoutHub stands in for a broker that never confirms a publish.
type timeoutHub struct{}

func (timeoutHub) Publish(ctx context.Context, topic string, payload []byte) error {
	return errors.Annotatef(bus.ErrConfirmTimeout, "topic %q", topic)
}

func (timeoutHub) Subscribe(pattern string, handler bus.Handler) (func(), error) {
	return func() {}, nil
}

const validConfig = `[cluster.topology]
leader_hostname = leader
leader_address = leader.local

[mqtt]
broker_address = leader.local
`

type serverSuite struct {
	databasetesting.LeaderStoreSuite

	caller      *fakeCaller
	runner      *fakeRunner
	hub         *bus.LocalHub
	queue       *taskqueue.Queue
	experiments *experimentservice.Service
	inventory   *inventoryservice.Service
	logs        *logservice.Service
	tsState     *timeseriesstate.State
	serverCfg   leaderapi.Config
	server      *leaderapi.Server
}

var _ = gc.Suite(&serverSuite{})

func (s *serverSuite) SetUpTest(c *gc.C) {
	s.LeaderStoreSuite.SetUpTest(c)

	factory := s.TxnRunnerFactory()
	s.caller = &fakeCaller{
		responses: map[string]string{"/unit_api/versions/app": `{"app":"25.8.1"}`},
		failUnits: map[string]error{},
	}
	s.runner = &fakeRunner{}
	s.hub = bus.NewLocalHub(clock.WallClock, 50*time.Millisecond)
	s.experiments = experimentservice.NewService(experimentstate.NewState(factory), clock.WallClock, nil)
	s.inventory = inventoryservice.NewService(inventorystate.NewState(factory), clock.WallClock)
	s.logs = logservice.NewService(logstate.NewState(factory), clock.WallClock)
	s.tsState = timeseriesstate.NewState(factory)

	var err error
	s.queue, err = taskqueue.NewQueue(taskqueue.Config{Clock: clock.WallClock})
	c.Assert(err, jc.ErrorIsNil)

	s.serverCfg = leaderapi.Config{
		LeaderUnit:  "leader",
		AppVersion:  "25.8.1",
		ContribDir:  c.MkDir(),
		Clock:       clock.WallClock,
		Experiments: s.experiments,
		Inventory:   s.inventory,
		Logs:        s.logs,
		TimeSeries:  timeseriesservice.NewService(s.tsState, clock.WallClock),
		Configs:     clusterconfigservice.NewService(clusterconfigstate.NewState(factory), clock.WallClock),
		Profiles:    profiles.NewStore(c.MkDir()),
		Queue:       s.queue,
		Hub:         s.hub,
		Caster:      multicast.New(s.caller),
		Run:         s.runner.run,
	}
	s.server, err = leaderapi.NewServer(s.serverCfg)
	c.Assert(err, jc.ErrorIsNil)
}

func (s *serverSuite) TearDownTest(c *gc.C) {
	if s.queue != nil {
		workertest.CleanKill(c, s.queue)
		s.queue = nil
	}
	s.LeaderStoreSuite.TearDownTest(c)
}

func (s *serverSuite) do(c *gc.C, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		c.Assert(err, jc.ErrorIsNil)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.server.ServeHTTP(rec, req)
	return rec
}

func (s *serverSuite) envelope(c *gc.C, rec *httptest.ResponseRecorder) params.TaskResponse {
	var resp params.TaskResponse
	c.Assert(json.Unmarshal(rec.Body.Bytes(), &resp), jc.ErrorIsNil)
	return resp
}

func (s *serverSuite) pollTask(c *gc.C, id string) params.TaskResponse {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec := s.do(c, "GET", "/api/task_results/"+id, nil)
		resp := s.envelope(c, rec)
		if resp.Status == "complete" || resp.Status == "failed" {
			return resp
		}
		time.Sleep(5 * time.Millisecond)
	}
	c.Fatalf("task %s never finished", id)
	panic("unreachable")
}

// seedCluster registers exp1/exp2 with u1, u2 active in exp1 and u3
// active in exp2.
func (s *serverSuite) seedCluster(c *gc.C) {
	ctx := context.Background()
	for _, exp := range []string{"exp1", "exp2"} {
		_, err := s.experiments.Create(ctx, experimentservice.Experiment{Name: exp})
		c.Assert(err, jc.ErrorIsNil)
	}
	for unit, exp := range map[string]string{"u1": "exp1", "u2": "exp1", "u3": "exp2"} {
		_, err := s.inventory.AddWorker(ctx, inventoryservice.Worker{
			Unit: unit, IsActive: true, ModelName: "pioreactor_20ml", ModelVersion: "1.1",
		})
		c.Assert(err, jc.ErrorIsNil)
		c.Assert(s.inventory.Assign(ctx, unit, exp), jc.ErrorIsNil)
	}
}

func (s *serverSuite) TestExperimentLifecycle(c *gc.C) {
	created := s.do(c, "POST", "/api/experiments", params.Experiment{Experiment: "exp1", Description: "yeast"})
	c.Assert(created.Code, gc.Equals, http.StatusCreated)

	got := s.do(c, "GET", "/api/experiments/exp1", nil)
	c.Assert(got.Code, gc.Equals, http.StatusOK)
	var exp params.Experiment
	c.Assert(json.Unmarshal(got.Body.Bytes(), &exp), jc.ErrorIsNil)
	c.Check(exp.Description, gc.Equals, "yeast")

	desc := "lager yeast"
	patched := s.do(c, "PATCH", "/api/experiments/exp1", params.ExperimentPatch{Description: &desc})
	c.Assert(patched.Code, gc.Equals, http.StatusOK)

	latest := s.do(c, "GET", "/api/experiments/latest", nil)
	c.Assert(latest.Code, gc.Equals, http.StatusOK)

	deleted := s.do(c, "DELETE", "/api/experiments/exp1", nil)
	c.Assert(deleted.Code, gc.Equals, http.StatusNoContent)
	c.Check(s.do(c, "GET", "/api/experiments/exp1", nil).Code, gc.Equals, http.StatusNotFound)
}

func (s *serverSuite) TestCreateDuplicateExperiment(c *gc.C) {
	first := s.do(c, "POST", "/api/experiments", params.Experiment{Experiment: "exp1"})
	c.Assert(first.Code, gc.Equals, http.StatusCreated)
	second := s.do(c, "POST", "/api/experiments", params.Experiment{Experiment: "exp1"})
	c.Check(second.Code, gc.Equals, http.StatusConflict)
}

func (s *serverSuite) TestCreateReservedExperimentName(c *gc.C) {
	rec := s.do(c, "POST", "/api/experiments", params.Experiment{Experiment: "current"})
	c.Check(rec.Code, gc.Equals, http.StatusBadRequest)
}

func (s *serverSuite) TestRunFanout(c *gc.C) {
	s.seedCluster(c)

	rec := s.do(c, "POST", "/api/workers/$broadcast/jobs/run/job_name/stirring/experiments/exp1",
		params.RunPayload{Options: map[string]interface{}{"target_rpm": 10}})
	c.Assert(rec.Code, gc.Equals, http.StatusAccepted)
	resp := s.envelope(c, rec)
	c.Assert(resp.TaskID, gc.Not(gc.Equals), "")

	done := s.pollTask(c, resp.TaskID)
	c.Assert(done.Status, gc.Equals, "complete")

	calls := s.caller.callsTo("/unit_api/jobs/run/job_name/stirring")
	c.Assert(calls, gc.HasLen, 2)
	units := []string{calls[0].Unit, calls[1].Unit}
	c.Check(units, jc.SameContents, []string{"u1", "u2"})
	for _, call := range calls {
		var payload params.RunPayload
		c.Assert(json.Unmarshal(call.Body, &payload), jc.ErrorIsNil)
		c.Check(payload.Env["EXPERIMENT"], gc.Equals, "exp1")
		c.Check(payload.Env["ACTIVE"], gc.Equals, "1")
		c.Check(payload.Env["MODEL_NAME"], gc.Equals, "pioreactor_20ml")
	}
}

func (s *serverSuite) TestRunFanoutUniversalExperiment(c *gc.C) {
	s.seedCluster(c)

	rec := s.do(c, "POST", "/api/workers/$broadcast/jobs/run/job_name/stirring/experiments/$experiment", nil)
	c.Assert(rec.Code, gc.Equals, http.StatusAccepted)
	s.pollTask(c, s.envelope(c, rec).TaskID)

	calls := s.caller.callsTo("/unit_api/jobs/run/job_name/stirring")
	c.Assert(calls, gc.HasLen, 3)
	byUnit := map[string]string{}
	for _, call := range calls {
		var payload params.RunPayload
		c.Assert(json.Unmarshal(call.Body, &payload), jc.ErrorIsNil)
		byUnit[call.Unit] = payload.Env["EXPERIMENT"]
	}
	c.Check(byUnit, jc.DeepEquals, map[string]string{"u1": "exp1", "u2": "exp1", "u3": "exp2"})
}

func (s *serverSuite) TestRunFanoutNoTargets(c *gc.C) {
	s.seedCluster(c)
	rec := s.do(c, "POST", "/api/workers/$broadcast/jobs/run/job_name/stirring/experiments/exp99", nil)
	c.Check(rec.Code, gc.Equals, http.StatusBadRequest)
}

func (s *serverSuite) TestStopPublishesToBus(c *gc.C) {
	s.seedCluster(c)

	// A live subscriber makes the publish confirm; the topic is taken
	// from the URL even though u1 is assigned exp1.
	topics := make(chan string, 1)
	unsub, err := s.hub.Subscribe("pioreactor/u1/exp99/stirring/$state/set", func(topic string, payload []byte) {
		topics <- topic + "=" + string(payload)
	})
	c.Assert(err, jc.ErrorIsNil)
	defer unsub()

	rec := s.do(c, "POST", "/api/workers/u1/jobs/stop/job_name/stirring/experiments/exp99", nil)
	c.Assert(rec.Code, gc.Equals, http.StatusAccepted)
	done := s.pollTask(c, s.envelope(c, rec).TaskID)
	c.Assert(done.Status, gc.Equals, "complete")

	select {
	case got := <-topics:
		c.Check(got, gc.Equals, "pioreactor/u1/exp99/stirring/$state/set=disconnected")
	case <-time.After(time.Second):
		c.Fatalf("no bus publish observed")
	}
	c.Check(s.caller.callsTo("/unit_api/jobs/stop"), gc.HasLen, 0)
}

func (s *serverSuite) TestStopFallsBackToHTTP(c *gc.C) {
	s.seedCluster(c)

	// A hub that never confirms pushes the stop down to the worker API.
	cfg := s.serverCfg
	cfg.Hub = timeoutHub{}
	srv, err := leaderapi.NewServer(cfg)
	c.Assert(err, jc.ErrorIsNil)
	s.server = srv

	rec := s.do(c, "POST", "/api/workers/u1/jobs/stop/job_name/stirring/experiments/exp1", nil)
	c.Assert(rec.Code, gc.Equals, http.StatusAccepted)
	done := s.pollTask(c, s.envelope(c, rec).TaskID)
	c.Assert(done.Status, gc.Equals, "complete")

	calls := s.caller.callsTo("/unit_api/jobs/stop")
	c.Assert(calls, gc.HasLen, 1)
	c.Check(calls[0].Unit, gc.Equals, "u1")
	var payload params.StopPayload
	c.Assert(json.Unmarshal(calls[0].Body, &payload), jc.ErrorIsNil)
	c.Check(payload.JobName, gc.Equals, "stirring")
	c.Check(payload.Experiment, gc.Equals, "exp1")
}

func (s *serverSuite) TestUpdateSettingsPublishes(c *gc.C) {
	s.seedCluster(c)

	payloads := make(chan string, 2)
	unsub, err := s.hub.Subscribe("pioreactor/u1/exp1/stirring/+/set", func(topic string, payload []byte) {
		payloads <- topic + "=" + string(payload)
	})
	c.Assert(err, jc.ErrorIsNil)
	defer unsub()

	rec := s.do(c, "PATCH", "/api/workers/u1/jobs/update/job_name/stirring/experiments/exp1",
		params.UpdateJobPayload{Settings: map[string]string{"target_rpm": "500"}})
	c.Assert(rec.Code, gc.Equals, http.StatusAccepted)
	done := s.pollTask(c, s.envelope(c, rec).TaskID)
	c.Assert(done.Status, gc.Equals, "complete")

	select {
	case got := <-payloads:
		c.Check(got, gc.Equals, "pioreactor/u1/exp1/stirring/target_rpm/set=500")
	case <-time.After(time.Second):
		c.Fatalf("no bus publish observed")
	}
}

func (s *serverSuite) TestAssignmentIdempotent(c *gc.C) {
	s.seedCluster(c)

	for i := 0; i < 3; i++ {
		rec := s.do(c, "PUT", "/api/experiments/exp2/workers", params.AssignRequest{Unit: "u1"})
		c.Assert(rec.Code, gc.Equals, http.StatusOK)
	}
	rec := s.do(c, "GET", "/api/workers/assignments", nil)
	c.Assert(rec.Code, gc.Equals, http.StatusOK)
	var assignments []params.Assignment
	c.Assert(json.Unmarshal(rec.Body.Bytes(), &assignments), jc.ErrorIsNil)
	count := 0
	for _, a := range assignments {
		if a.Unit == "u1" {
			count++
			c.Check(a.Experiment, gc.Equals, "exp2")
		}
	}
	c.Check(count, gc.Equals, 1)
}

func (s *serverSuite) TestDeactivateStopsWorkerJobs(c *gc.C) {
	s.seedCluster(c)

	rec := s.do(c, "PATCH", "/api/workers/u1/is_active", params.WorkerActivePatch{IsActive: false})
	c.Assert(rec.Code, gc.Equals, http.StatusOK)
	var worker params.Worker
	c.Assert(json.Unmarshal(rec.Body.Bytes(), &worker), jc.ErrorIsNil)
	c.Check(worker.IsActive, jc.IsFalse)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		calls := s.caller.callsTo("/unit_api/jobs/stop/all")
		if len(calls) == 1 {
			c.Check(calls[0].Unit, gc.Equals, "u1")
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	c.Fatalf("stop-all never reached the worker")
}

func (s *serverSuite) TestConfigPatchAndSync(c *gc.C) {
	rec := s.do(c, "PATCH", "/api/configs/config.ini", params.ConfigPatch{Content: validConfig})
	c.Assert(rec.Code, gc.Equals, http.StatusOK)

	got := s.do(c, "GET", "/api/configs/config.ini", nil)
	c.Assert(got.Code, gc.Equals, http.StatusOK)
	var file params.ConfigFile
	c.Assert(json.Unmarshal(got.Body.Bytes(), &file), jc.ErrorIsNil)
	c.Check(file.Content, gc.Equals, validConfig)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if calls := s.runner.recorded(); len(calls) == 1 {
			c.Check(calls[0], jc.DeepEquals, []string{"pios", "sync-configs", "--shared"})
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	c.Fatalf("config sync never ran")
}

func (s *serverSuite) TestConfigPatchRejectsMissingSection(c *gc.C) {
	content := "[cluster.topology]\nleader_hostname = leader\nleader_address = leader.local\n"
	rec := s.do(c, "PATCH", "/api/configs/config.ini", params.ConfigPatch{Content: content})
	c.Assert(rec.Code, gc.Equals, http.StatusBadRequest)
	var apiErr params.Error
	c.Assert(json.Unmarshal(rec.Body.Bytes(), &apiErr), jc.ErrorIsNil)
	c.Check(apiErr.Message, gc.Matches, `(?s).*\[mqtt\].*`)
	c.Check(s.runner.recorded(), gc.HasLen, 0)
}

func (s *serverSuite) TestTimeSeries(c *gc.C) {
	s.seedCluster(c)
	ctx := context.Background()
	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		err := s.tsState.Insert(ctx, "growth_rates", "exp1", timeseriesstate.Point{
			Unit:      "u1",
			Timestamp: database.FormatTimestamp(base.Add(time.Duration(i) * time.Minute)),
			Value:     0.1 + float64(i)*0.01,
		})
		c.Assert(err, jc.ErrorIsNil)
	}

	rec := s.do(c, "GET", "/api/experiments/exp1/time_series/growth_rates?target_points=720", nil)
	c.Assert(rec.Code, gc.Equals, http.StatusOK)
	var chart timeseriesservice.Chart
	c.Assert(json.Unmarshal(rec.Body.Bytes(), &chart), jc.ErrorIsNil)
	c.Assert(chart.Series, jc.DeepEquals, []string{"u1"})
	c.Check(chart.Data[0], gc.HasLen, 10)
}

func (s *serverSuite) TestTimeSeriesZeroTargetPoints(c *gc.C) {
	s.seedCluster(c)
	rec := s.do(c, "GET", "/api/experiments/exp1/time_series/growth_rates?target_points=0", nil)
	c.Check(rec.Code, gc.Equals, http.StatusBadRequest)
}

func (s *serverSuite) TestRecentLogsMinLevel(c *gc.C) {
	s.seedCluster(c)
	ctx := context.Background()
	for _, level := range []string{"INFO", "ERROR"} {
		err := s.logs.Ingest(ctx, logservice.LogRecord{
			Level:      cluster.LogLevel(level),
			Unit:       "u1",
			Experiment: "exp1",
			Message:    level + " line",
		})
		c.Assert(err, jc.ErrorIsNil)
	}

	rec := s.do(c, "GET", "/api/experiments/exp1/recent_logs?min_level=WARNING", nil)
	c.Assert(rec.Code, gc.Equals, http.StatusOK)
	var records []params.LogRecord
	c.Assert(json.Unmarshal(rec.Body.Bytes(), &records), jc.ErrorIsNil)
	c.Assert(records, gc.HasLen, 1)
	c.Check(records[0].Level, gc.Equals, "ERROR")
}

func (s *serverSuite) TestProfilesCRUD(c *gc.C) {
	body := params.ProfileBody{
		Filename: "demo.yaml",
		Body:     "experiment_profile_name: demo\n",
	}
	created := s.do(c, "POST", "/api/contrib/experiment_profiles", body)
	c.Assert(created.Code, gc.Equals, http.StatusOK)

	list := s.do(c, "GET", "/api/contrib/experiment_profiles", nil)
	c.Assert(list.Code, gc.Equals, http.StatusOK)
	var infos []profiles.Info
	c.Assert(json.Unmarshal(list.Body.Bytes(), &infos), jc.ErrorIsNil)
	c.Assert(infos, gc.HasLen, 1)
	c.Check(infos[0].Name, gc.Equals, "demo")

	got := s.do(c, "GET", "/api/contrib/experiment_profiles/demo.yaml", nil)
	c.Assert(got.Code, gc.Equals, http.StatusOK)

	bad := s.do(c, "POST", "/api/contrib/experiment_profiles", params.ProfileBody{
		Filename: "demo.yaml",
		Body:     "not: a profile\n",
	})
	c.Check(bad.Code, gc.Equals, http.StatusBadRequest)

	deleted := s.do(c, "DELETE", "/api/contrib/experiment_profiles/demo.yaml", nil)
	c.Assert(deleted.Code, gc.Equals, http.StatusNoContent)
	c.Check(s.do(c, "GET", "/api/contrib/experiment_profiles/demo.yaml", nil).Code, gc.Equals, http.StatusNotFound)
}

func (s *serverSuite) TestVersionsRollup(c *gc.C) {
	s.seedCluster(c)
	rec := s.do(c, "GET", "/api/versions", nil)
	c.Assert(rec.Code, gc.Equals, http.StatusOK)
	var versions []params.Versions
	c.Assert(json.Unmarshal(rec.Body.Bytes(), &versions), jc.ErrorIsNil)
	c.Assert(versions, gc.HasLen, 4)
	c.Check(versions[0].Unit, gc.Equals, "leader")
	c.Check(versions[1].App, gc.Equals, "25.8.1")
}

func (s *serverSuite) TestUnitRunningJobsPassthrough(c *gc.C) {
	s.seedCluster(c)
	s.caller.responses["/unit_api/jobs/running"] = `[{"name":"stirring"}]`

	rec := s.do(c, "GET", "/api/units/u1/jobs/running", nil)
	c.Assert(rec.Code, gc.Equals, http.StatusOK)
	c.Check(rec.Body.String(), gc.Equals, `[{"name":"stirring"}]`)
}

func (s *serverSuite) TestUnitRunningJobsUnreachable(c *gc.C) {
	s.seedCluster(c)
	s.caller.failUnits["u1"] = errors.New("connection refused")

	rec := s.do(c, "GET", "/api/units/u1/jobs/running", nil)
	c.Check(rec.Code, gc.Equals, http.StatusBadGateway)
}

func (s *serverSuite) TestWorkerHTTPErrorSurfaced(c *gc.C) {
	s.seedCluster(c)
	s.caller.failUnits["u1"] = &unitclient.HTTPError{
		Method: "GET", URL: "http://u1.local/unit_api/jobs/running",
		StatusCode: 500, Body: `{"error":"boom"}`,
	}

	rec := s.do(c, "GET", "/api/units/u1/jobs/running", nil)
	c.Check(rec.Code, gc.Equals, http.StatusBadGateway)
}

func (s *serverSuite) TestNotFoundHint(c *gc.C) {
	rec := s.do(c, "GET", "/api/does_not_exist", nil)
	c.Assert(rec.Code, gc.Equals, http.StatusNotFound)
	var apiErr params.Error
	c.Assert(json.Unmarshal(rec.Body.Bytes(), &apiErr), jc.ErrorIsNil)
	c.Check(apiErr.Message, gc.Matches, ".*/unit_api.*")
}
