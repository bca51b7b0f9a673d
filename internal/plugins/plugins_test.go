// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

package plugins_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/pioreactor/pioreactor/internal/plugins"
)

type fakeRunner struct {
	calls  [][]string
	output []byte
	err    error
}

func (f *fakeRunner) run(ctx context.Context, args ...string) ([]byte, error) {
	f.calls = append(f.calls, args)
	return f.output, f.err
}

type pluginsSuite struct {
	dataDir  string
	runner   *fakeRunner
	registry *plugins.Registry
}

var _ = gc.Suite(&pluginsSuite{})

func (s *pluginsSuite) SetUpTest(c *gc.C) {
	s.dataDir = c.MkDir()
	s.runner = &fakeRunner{}
	s.registry = plugins.NewRegistry(s.dataDir, s.runner.run)
}

func (s *pluginsSuite) TestInstalledSorted(c *gc.C) {
	s.runner.output = []byte(`[
		{"name": "relay", "version": "0.2.0"},
		{"name": "dosing-extras", "version": "1.0.1", "author": "jane"}
	]`)

	got, err := s.registry.Installed(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(got, gc.HasLen, 2)
	c.Check(got[0].Name, gc.Equals, "dosing-extras")
	c.Check(got[1].Name, gc.Equals, "relay")
	c.Check(s.runner.calls, jc.DeepEquals, [][]string{{"plugins", "list", "--json"}})
}

func (s *pluginsSuite) TestInstalledBadOutput(c *gc.C) {
	s.runner.output = []byte("not json")
	_, err := s.registry.Installed(context.Background())
	c.Check(err, gc.ErrorMatches, "parsing plugin listing.*")
}

func (s *pluginsSuite) TestInstall(c *gc.C) {
	err := s.registry.Install(context.Background(), "relay")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.runner.calls, jc.DeepEquals, [][]string{{"plugins", "install", "relay"}})
}

func (s *pluginsSuite) TestUninstall(c *gc.C) {
	err := s.registry.Uninstall(context.Background(), "relay")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.runner.calls, jc.DeepEquals, [][]string{{"plugins", "uninstall", "relay"}})
}

func (s *pluginsSuite) TestSentinelBlocksInstalls(c *gc.C) {
	path := filepath.Join(s.dataDir, plugins.DisallowInstallsSentinel)
	c.Assert(os.WriteFile(path, nil, 0o644), jc.ErrorIsNil)

	c.Check(s.registry.InstallsAllowed(), jc.IsFalse)
	err := s.registry.Install(context.Background(), "relay")
	c.Check(err, jc.Satisfies, errors.IsForbidden)
	err = s.registry.Uninstall(context.Background(), "relay")
	c.Check(err, jc.Satisfies, errors.IsForbidden)
	c.Check(s.runner.calls, gc.HasLen, 0)
}

func (s *pluginsSuite) TestInstallRejectsBadName(c *gc.C) {
	for _, name := range []string{"", "../escape", "a/b", strings.Repeat("x", 300)} {
		err := s.registry.Install(context.Background(), name)
		c.Check(err, jc.Satisfies, errors.IsNotValid, gc.Commentf("%q", name))
	}
}

func (s *pluginsSuite) TestLoadManifests(c *gc.C) {
	dir := c.MkDir()
	write := func(name, content string) {
		c.Assert(os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644), jc.ErrorIsNil)
	}
	write("b_chart.yaml", "chart_key: od\ntitle: OD\n")
	write("a_job.yml", "job_key: relay\n")
	write("broken.yaml", "a: [unclosed")
	write("notes.txt", "ignored")

	got := plugins.LoadManifests(dir)
	c.Assert(got, gc.HasLen, 2)
	c.Check(got[0]["job_key"], gc.Equals, "relay")
	c.Check(got[1]["chart_key"], gc.Equals, "od")
}

func (s *pluginsSuite) TestLoadManifestsMissingDir(c *gc.C) {
	c.Check(plugins.LoadManifests(filepath.Join(c.MkDir(), "nope")), gc.IsNil)
}
