// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

package commands

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/juju/cmd/v4"
	"github.com/juju/cmd/v4/cmdtesting"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/pioreactor/pioreactor/apiserver/params"
	"github.com/pioreactor/pioreactor/internal/unitclient"
)

type piosSuite struct {
	mu       sync.Mutex
	requests []recordedRequest

	leader *httptest.Server
}

var _ = gc.Suite(&piosSuite{})

type recordedRequest struct {
	method string
	path   string
	body   string
}

func (s *piosSuite) SetUpTest(c *gc.C) {
	s.requests = nil
	s.leader = httptest.NewServer(http.HandlerFunc(s.serveLeader))
}

func (s *piosSuite) TearDownTest(c *gc.C) {
	s.leader.Close()
}

func (s *piosSuite) serveLeader(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	s.requests = append(s.requests, recordedRequest{
		method: r.Method,
		path:   r.URL.Path,
		body:   string(body),
	})
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/api/workers":
		_ = json.NewEncoder(w).Encode([]params.Worker{
			{Unit: "u1", IsActive: true},
			{Unit: "u2", IsActive: true},
			{Unit: "dormant", IsActive: false},
		})
	case strings.HasPrefix(r.URL.Path, "/api/configs/"):
		filename := strings.TrimPrefix(r.URL.Path, "/api/configs/")
		if filename == "config_u2.ini" {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(params.Error{
				Message: "not found",
				Info:    &params.ErrorInfo{Status: http.StatusNotFound},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(params.ConfigFile{
			Filename: filename,
			Content:  "[stirring]\ntarget_rpm=400\n",
		})
	default:
		ok := json.RawMessage(`{"ok":true}`)
		_ = json.NewEncoder(w).Encode(params.TaskResponse{
			TaskID: "t1",
			Status: "complete",
			Result: params.MulticastResult{"u1": &ok, "u2": &ok},
		})
	}
}

func (s *piosSuite) recorded() []recordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedRequest(nil), s.requests...)
}

func (s *piosSuite) run(c *gc.C, com cmd.Command, stdin string, args ...string) (*cmd.Context, error) {
	args = append([]string{"--leader", s.leader.URL}, args...)
	err := cmdtesting.InitCommand(com, args)
	c.Assert(err, jc.ErrorIsNil)
	ctx := cmdtesting.Context(c)
	ctx.Stdin = strings.NewReader(stdin)
	return ctx, com.Run(ctx)
}

func (s *piosSuite) TestUnitsFlagParsesLists(c *gc.C) {
	var units unitsValue
	c.Assert(units.Set("u1, u2"), jc.ErrorIsNil)
	c.Assert(units.Set("u3"), jc.ErrorIsNil)
	c.Check([]string(units), jc.DeepEquals, []string{"u1", "u2", "u3"})

	c.Check(units.Set("Not A Unit"), gc.ErrorMatches, `unit name "Not A Unit" not valid`)
}

func (s *piosSuite) TestRunBroadcastsByDefault(c *gc.C) {
	ctx, err := s.run(c, newRunCommand(), "", "-y", "stirring", "--target-rpm", "500")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cmdtesting.Stdout(ctx), gc.Equals, "u1: ok\nu2: ok\n")

	reqs := s.recorded()
	c.Assert(reqs, gc.HasLen, 1)
	c.Check(reqs[0].method, gc.Equals, "POST")
	c.Check(reqs[0].path, gc.Equals, "/api/workers/$broadcast/jobs/run/job_name/stirring/experiments/$experiment")

	var payload params.RunPayload
	c.Assert(json.Unmarshal([]byte(reqs[0].body), &payload), jc.ErrorIsNil)
	c.Check(payload.Options, jc.DeepEquals, map[string]interface{}{"target_rpm": "500"})
}

func (s *piosSuite) TestRunFansOutPerExplicitUnit(c *gc.C) {
	_, err := s.run(c, newRunCommand(), "", "-y", "--units", "u1,u2", "stirring")
	c.Assert(err, jc.ErrorIsNil)

	reqs := s.recorded()
	c.Assert(reqs, gc.HasLen, 2)
	c.Check(reqs[0].path, gc.Equals, "/api/workers/u1/jobs/run/job_name/stirring/experiments/$experiment")
	c.Check(reqs[1].path, gc.Equals, "/api/workers/u2/jobs/run/job_name/stirring/experiments/$experiment")
}

func (s *piosSuite) TestRunDeclinedPromptAborts(c *gc.C) {
	ctx, err := s.run(c, newRunCommand(), "n\n", "stirring")
	c.Assert(err, gc.Equals, cmd.ErrSilent)
	c.Check(cmdtesting.Stdout(ctx), gc.Matches, `Run "stirring" on all active workers\? \[y/N\] `)
	c.Check(s.recorded(), gc.HasLen, 0)
}

func (s *piosSuite) TestRunAcceptedPromptProceeds(c *gc.C) {
	_, err := s.run(c, newRunCommand(), "y\n", "stirring")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.recorded(), gc.HasLen, 1)
}

func (s *piosSuite) TestKillRequiresFilter(c *gc.C) {
	err := cmdtesting.InitCommand(newKillCommand(), nil)
	c.Assert(err, gc.ErrorMatches, "nothing to kill: give --name or --all-jobs")
}

func (s *piosSuite) TestKillByName(c *gc.C) {
	_, err := s.run(c, newKillCommand(), "", "-y", "--name", "stirring")
	c.Assert(err, jc.ErrorIsNil)

	reqs := s.recorded()
	c.Assert(reqs, gc.HasLen, 1)
	c.Check(reqs[0].path, gc.Equals, "/api/workers/$broadcast/jobs/stop/job_name/stirring/experiments/$experiment")
}

func (s *piosSuite) TestKillAllJobs(c *gc.C) {
	_, err := s.run(c, newKillCommand(), "", "-y", "--all-jobs")
	c.Assert(err, jc.ErrorIsNil)

	reqs := s.recorded()
	c.Assert(reqs, gc.HasLen, 1)
	c.Check(reqs[0].path, gc.Equals, "/api/workers/$broadcast/jobs/stop/experiments/$experiment")
}

func (s *piosSuite) TestUpdateRejectsConflictingSelectors(c *gc.C) {
	err := cmdtesting.InitCommand(newUpdateCommand(), []string{"app", "-b", "dev", "-v", "25.8.1"})
	c.Assert(err, gc.ErrorMatches, "--branch, --version and --source are mutually exclusive")
}

func (s *piosSuite) TestUpdatePostsRequest(c *gc.C) {
	_, err := s.run(c, newUpdateCommand(), "", "-y", "app", "--branch", "develop")
	c.Assert(err, jc.ErrorIsNil)

	reqs := s.recorded()
	c.Assert(reqs, gc.HasLen, 1)
	c.Check(reqs[0].path, gc.Equals, "/api/workers/$broadcast/system/update/app")

	var body params.UpdateRequest
	c.Assert(json.Unmarshal([]byte(reqs[0].body), &body), jc.ErrorIsNil)
	c.Check(body.Branch, gc.Equals, "develop")
}

func (s *piosSuite) TestRebootTargetsUnit(c *gc.C) {
	_, err := s.run(c, newRebootCommand(), "", "-y", "--units", "u1")
	c.Assert(err, jc.ErrorIsNil)

	reqs := s.recorded()
	c.Assert(reqs, gc.HasLen, 1)
	c.Check(reqs[0].path, gc.Equals, "/api/workers/u1/system/reboot")
}

func (s *piosSuite) TestPluginInstall(c *gc.C) {
	com := &pluginCommand{action: "install"}
	_, err := s.run(c, com, "", "-y", "pioreactor-air-bubbler")
	c.Assert(err, jc.ErrorIsNil)

	reqs := s.recorded()
	c.Assert(reqs, gc.HasLen, 1)
	c.Check(reqs[0].path, gc.Equals, "/api/units/$broadcast/plugins/install")

	var body params.PluginRequest
	c.Assert(json.Unmarshal([]byte(reqs[0].body), &body), jc.ErrorIsNil)
	c.Check(body.Name, gc.Equals, "pioreactor-air-bubbler")
}

func (s *piosSuite) TestSyncConfigsPushesPerUnit(c *gc.C) {
	var mu sync.Mutex
	var calls [][]string
	com := &syncConfigsCommand{
		run: func(_ context.Context, args ...string) ([]byte, error) {
			mu.Lock()
			calls = append(calls, args)
			mu.Unlock()
			return nil, nil
		},
	}
	ctx, err := s.run(c, com, "")
	c.Assert(err, jc.ErrorIsNil)

	// Shared config to both units, a specific config only to u1.
	mu.Lock()
	defer mu.Unlock()
	c.Assert(calls, gc.HasLen, 3)
	for _, args := range calls {
		c.Check(args[0], gc.Equals, "rsync")
	}
	c.Check(calls[0][len(calls[0])-1], gc.Equals, "pioreactor@u1.local:/home/pioreactor/.pioreactor/config.ini")
	c.Check(calls[1][len(calls[1])-1], gc.Equals, "pioreactor@u1.local:/home/pioreactor/.pioreactor/unit_config.ini")
	c.Check(calls[2][len(calls[2])-1], gc.Equals, "pioreactor@u2.local:/home/pioreactor/.pioreactor/config.ini")
	c.Check(cmdtesting.Stdout(ctx), gc.Matches, `(?s).*u1: unit_config.ini synced.*`)
}

func (s *piosSuite) TestRmDeletesOnEachWorker(c *gc.C) {
	var mu sync.Mutex
	var paths []string
	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req params.RemoveFileRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		paths = append(paths, r.URL.Path+":"+req.Path)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"removed": req.Path})
	}))
	defer worker.Close()

	com := &rmCommand{
		caller: unitclient.New(func(string) string { return worker.URL }, nil, 0),
	}
	ctx, err := s.run(c, com, "", "-y", "plugins/old_plugin.py")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cmdtesting.Stdout(ctx), gc.Equals, "u1: deleted\nu2: deleted\n")

	mu.Lock()
	defer mu.Unlock()
	c.Check(paths, jc.DeepEquals, []string{
		"/unit_api/system/remove_file:plugins/old_plugin.py",
		"/unit_api/system/remove_file:plugins/old_plugin.py",
	})
}

func (s *piosSuite) TestParseJobOptions(c *gc.C) {
	payload, err := parseJobOptions([]string{"--target-rpm", "500", "--skip-first", "--ratio=1:4", "positional"})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(payload.Args, jc.DeepEquals, []string{"positional"})
	c.Check(payload.Options, jc.DeepEquals, map[string]interface{}{
		"target_rpm": "500",
		"skip_first": true,
		"ratio":      "1:4",
	})
}
