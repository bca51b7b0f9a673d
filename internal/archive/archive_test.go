// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

package archive_test

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"time"

	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/pioreactor/pioreactor/internal/archive"
)

type archiveSuite struct{}

var _ = gc.Suite(&archiveSuite{})

func (s *archiveSuite) write(c *gc.C, dir, name, content string) {
	path := filepath.Join(dir, name)
	c.Assert(os.MkdirAll(filepath.Dir(path), 0o755), jc.ErrorIsNil)
	c.Assert(os.WriteFile(path, []byte(content), 0o644), jc.ErrorIsNil)
}

func (s *archiveSuite) export(c *gc.C, dir string) []byte {
	var buf bytes.Buffer
	err := archive.Export(&buf, dir, archive.Metadata{
		Name:           "u1",
		LeaderHostname: "leader1",
		AppVersion:     "25.8.1",
	}, time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC))
	c.Assert(err, jc.ErrorIsNil)
	return buf.Bytes()
}

func (s *archiveSuite) TestExportRoundTrip(c *gc.C) {
	src := c.MkDir()
	s.write(c, src, "config.ini", "[stirring]\nrpm = 400\n")
	s.write(c, src, "plugins/my_plugin.yaml", "name: my_plugin\n")
	s.write(c, src, "storage/pioreactor.sqlite", "not exported")
	s.write(c, src, "storage/pioreactor.sqlite-wal", "not exported")

	data := s.export(c, src)

	dst := c.MkDir()
	c.Assert(archive.Import(data, dst), jc.ErrorIsNil)

	got, err := os.ReadFile(filepath.Join(dst, "config.ini"))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(string(got), gc.Equals, "[stirring]\nrpm = 400\n")
	got, err = os.ReadFile(filepath.Join(dst, "plugins/my_plugin.yaml"))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(string(got), gc.Equals, "name: my_plugin\n")

	_, err = os.Stat(filepath.Join(dst, "storage/pioreactor.sqlite"))
	c.Check(os.IsNotExist(err), jc.IsTrue)
	_, err = os.Stat(filepath.Join(dst, archive.MetadataFilename))
	c.Check(os.IsNotExist(err), jc.IsTrue)
}

func (s *archiveSuite) TestMetadata(c *gc.C) {
	src := c.MkDir()
	s.write(c, src, "config.ini", "x")

	data := s.export(c, src)
	meta, err := archive.ReadMetadata(data)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(meta.MetadataVersion, gc.Equals, archive.MetadataVersion)
	c.Check(meta.Name, gc.Equals, "u1")
	c.Check(meta.LeaderHostname, gc.Equals, "leader1")
	c.Check(meta.AppVersion, gc.Equals, "25.8.1")
	c.Check(meta.ExportedAtUTC, gc.Equals, "2026-08-25T12:00:00.000000Z")
}

func (s *archiveSuite) TestReadMetadataMissing(c *gc.C) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create("config.ini")
	c.Assert(err, jc.ErrorIsNil)
	_, err = f.Write([]byte("x"))
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(zw.Close(), jc.ErrorIsNil)

	_, err = archive.ReadMetadata(buf.Bytes())
	c.Check(err, jc.Satisfies, errors.IsNotFound)
}

func (s *archiveSuite) TestReadMetadataNotAZip(c *gc.C) {
	_, err := archive.ReadMetadata([]byte("definitely not a zip"))
	c.Check(err, jc.Satisfies, errors.IsNotValid)
}

func (s *archiveSuite) TestImportRefusesTraversal(c *gc.C) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create("../outside.txt")
	c.Assert(err, jc.ErrorIsNil)
	_, err = f.Write([]byte("escape"))
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(zw.Close(), jc.ErrorIsNil)

	dst := c.MkDir()
	err = archive.Import(buf.Bytes(), dst)
	c.Check(err, jc.Satisfies, errors.IsNotValid)
	_, statErr := os.Stat(filepath.Join(filepath.Dir(dst), "outside.txt"))
	c.Check(os.IsNotExist(statErr), jc.IsTrue)
}
