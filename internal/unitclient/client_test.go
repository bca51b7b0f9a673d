// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

package unitclient_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"time"

	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/pioreactor/pioreactor/internal/unitclient"
)

type clientSuite struct {
	server  *httptest.Server
	handler http.HandlerFunc
	client  *unitclient.Client
}

var _ = gc.Suite(&clientSuite{})

func (s *clientSuite) SetUpTest(c *gc.C) {
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.handler(w, r)
	}))
	// Every unit resolves to the test server.
	resolve := func(unit string) string { return s.server.URL }
	s.client = unitclient.New(resolve, s.server.Client(), 2*time.Second)
}

func (s *clientSuite) TearDownTest(c *gc.C) {
	s.server.Close()
}

func (s *clientSuite) TestMDNSResolver(c *gc.C) {
	c.Check(unitclient.MDNSResolver(80)("u1"), gc.Equals, "http://u1.local")
	c.Check(unitclient.MDNSResolver(0)("u1"), gc.Equals, "http://u1.local")
	c.Check(unitclient.MDNSResolver(4999)("u1"), gc.Equals, "http://u1.local:4999")
}

func (s *clientSuite) TestGetDecodesJSON(c *gc.C) {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		c.Check(r.Method, gc.Equals, "GET")
		c.Check(r.URL.Path, gc.Equals, "/unit_api/jobs/running")
		c.Check(r.URL.Query().Get("job_name"), gc.Equals, "stirring")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}

	var out map[string]string
	err := s.client.Get(context.Background(), "u1", "/unit_api/jobs/running",
		url.Values{"job_name": []string{"stirring"}}, &out)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(out, jc.DeepEquals, map[string]string{"status": "ok"})
}

func (s *clientSuite) TestPostSendsJSONBody(c *gc.C) {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		c.Check(r.Method, gc.Equals, "POST")
		c.Check(r.Header.Get("Content-Type"), gc.Equals, "application/json")
		var body map[string]interface{}
		c.Assert(json.NewDecoder(r.Body).Decode(&body), jc.ErrorIsNil)
		c.Check(body["env"], jc.DeepEquals, map[string]interface{}{"EXPERIMENT": "exp1"})
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"task_id": "t1"})
	}

	var out map[string]string
	err := s.client.Post(context.Background(), "u1", "/unit_api/jobs/run/job_name/stirring", nil,
		map[string]interface{}{"env": map[string]string{"EXPERIMENT": "exp1"}}, &out)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(out["task_id"], gc.Equals, "t1")
}

func (s *clientSuite) TestNon2xxIsTypedError(c *gc.C) {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "job not running"}`, http.StatusNotFound)
	}

	err := s.client.Delete(context.Background(), "u1", "/unit_api/jobs/stop/job_name/stirring", nil)
	c.Assert(err, gc.NotNil)
	herr, ok := unitclient.IsHTTPError(err)
	c.Assert(ok, jc.IsTrue)
	c.Check(herr.StatusCode, gc.Equals, http.StatusNotFound)
	c.Check(herr.Body, jc.Contains, "job not running")
}

func (s *clientSuite) TestRejectsNonUnitAPIPath(c *gc.C) {
	err := s.client.Get(context.Background(), "u1", "/api/experiments", nil, nil)
	c.Check(err, jc.Satisfies, errors.IsNotValid)
}

func (s *clientSuite) TestTimeout(c *gc.C) {
	block := make(chan struct{})
	defer close(block)
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}

	client := unitclient.New(func(string) string { return s.server.URL }, s.server.Client(), 50*time.Millisecond)
	start := time.Now()
	err := client.Get(context.Background(), "u1", "/unit_api/jobs/running", nil, nil)
	c.Check(err, gc.NotNil)
	c.Check(time.Since(start) < 2*time.Second, jc.IsTrue)
}

func (s *clientSuite) TestGetRaw(c *gc.C) {
	payload := []byte{0x50, 0x4b, 0x03, 0x04, 0x00}
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write(payload)
	}

	data, err := s.client.GetRaw(context.Background(), "u1", "/unit_api/zipped_dot_pioreactor", nil)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(data, jc.DeepEquals, payload)
}

func (s *clientSuite) TestGetRawNon2xx(c *gc.C) {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}

	_, err := s.client.GetRaw(context.Background(), "u1", "/unit_api/zipped_dot_pioreactor", nil)
	herr, ok := unitclient.IsHTTPError(err)
	c.Assert(ok, jc.IsTrue)
	c.Check(herr.StatusCode, gc.Equals, http.StatusForbidden)
}
