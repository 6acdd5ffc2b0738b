// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metadata_test

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/clarkzinzow/mfs/internal/diskimage"
	"github.com/clarkzinzow/mfs/internal/layout"
	"github.com/clarkzinzow/mfs/internal/metadata"
	"github.com/stretchr/testify/suite"
)

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineTest))
}

type EngineTest struct {
	suite.Suite
	img *diskimage.Image
	e   *metadata.Engine
}

func (t *EngineTest) SetupTest() {
	path := filepath.Join(t.T().TempDir(), "mfs.img")
	img, err := diskimage.OpenOrCreate(path, diskimage.DefaultParams())
	t.Require().NoError(err)
	t.img = img
	t.e = metadata.NewEngine(img)
}

func (t *EngineTest) TearDownTest() {
	t.Require().NoError(t.img.Close())
}

// S1
func (t *EngineTest) TestCreateLookupStatRegularFile() {
	inum := t.e.Create(0, layout.TypeRegularFile, "appear")
	t.EqualValues(1, inum)

	t.EqualValues(1, t.e.Lookup(0, "appear"))

	st, rc := t.e.Stat(1)
	t.EqualValues(metadata.Success, rc)
	t.Equal(layout.TypeRegularFile, st.Type)
	t.EqualValues(0, st.Size)
}

// S2
func (t *EngineTest) TestUnlinkRejectsNonEmptyDirectory() {
	d := t.e.Create(0, layout.TypeDirectory, "d")
	t.EqualValues(1, d)
	f := t.e.Create(d, layout.TypeRegularFile, "f")
	t.EqualValues(2, f)
	t.EqualValues(2, t.e.Lookup(d, "f"))

	t.EqualValues(metadata.Failure, t.e.Unlink(0, "d"))
	t.EqualValues(metadata.Success, t.e.Unlink(d, "f"))
	t.EqualValues(metadata.Success, t.e.Unlink(0, "d"))
}

// S3
func (t *EngineTest) TestWriteReadRoundTrip() {
	inum := t.e.Create(0, layout.TypeRegularFile, "x")
	t.EqualValues(1, inum)

	bufA := make([]byte, layout.BSIZE)
	for i := range bufA {
		bufA[i] = 'A'
	}
	bufB := make([]byte, layout.BSIZE)
	for i := range bufB {
		bufB[i] = 'B'
	}

	t.EqualValues(metadata.Success, t.e.Write(inum, 0, bufA))
	out := make([]byte, layout.BSIZE)
	t.EqualValues(metadata.Success, t.e.Read(inum, 0, out))
	t.Equal(bufA, out)

	t.EqualValues(metadata.Success, t.e.Write(inum, 0, bufB))
	t.EqualValues(metadata.Success, t.e.Read(inum, 0, out))
	t.Equal(bufB, out)

	st, rc := t.e.Stat(inum)
	t.EqualValues(metadata.Success, rc)
	t.EqualValues(layout.BSIZE, st.Size)
}

// S4
func (t *EngineTest) TestWriteToDirectoryFails() {
	buf := make([]byte, layout.BSIZE)
	t.EqualValues(metadata.Failure, t.e.Write(0, 0, buf))
}

// S5
func (t *EngineTest) TestCreateRejectsOverlongName() {
	name := make([]byte, 61)
	for i := range name {
		name[i] = 'a'
	}
	t.EqualValues(-1, t.e.Create(0, layout.TypeRegularFile, string(name)))
}

func (t *EngineTest) TestCreateIsIdempotent() {
	first := t.e.Create(0, layout.TypeRegularFile, "a")
	second := t.e.Create(0, layout.TypeRegularFile, "a")
	t.Equal(first, second)
}

func (t *EngineTest) TestUnlinkMissingNameIsSuccess() {
	t.EqualValues(metadata.Success, t.e.Unlink(0, "nope"))
}

func (t *EngineTest) TestUnlinkReclaimsInodeAndBlocks() {
	inum := t.e.Create(0, layout.TypeRegularFile, "f")
	buf := make([]byte, layout.BSIZE)
	t.Require().EqualValues(metadata.Success, t.e.Write(inum, 0, buf))

	t.img.Lock()
	addr := t.img.Inode(int(inum)).Addrs[0]
	blockIdx := layout.BlockIndex(addr)
	t.True(t.img.ReadBit(blockIdx))
	t.img.Unlock()

	t.EqualValues(metadata.Success, t.e.Unlink(0, "f"))

	t.img.Lock()
	defer t.img.Unlock()
	t.False(t.img.ReadBit(blockIdx), "unlink must clear the reclaimed block's bitmap bit")
	t.Equal(layout.TypeUnused, t.img.Inode(int(inum)).Type)
}

func (t *EngineTest) TestRootDirectoryHasDotAndDotDot() {
	t.EqualValues(0, t.e.Lookup(0, "."))
	t.EqualValues(0, t.e.Lookup(0, ".."))
}

// TestCreateLeavesNoOrphanedBlockOnInodeExhaustion exercises the case
// where a Create needs to grow its parent directory with a fresh block
// but no inode is free: growing the block must not commit before the
// inode is confirmed available, or the new block would be allocated
// and written with nothing ever referencing it.
func (t *EngineTest) TestCreateLeavesNoOrphanedBlockOnInodeExhaustion() {
	img, err := diskimage.OpenOrCreate(
		filepath.Join(t.T().TempDir(), "mfs.img"),
		diskimage.Params{NumInodes: layout.DirentsPerBlock - 1, NumBlocks: 128},
	)
	t.Require().NoError(err)
	defer img.Close()
	e := metadata.NewEngine(img)

	// Root's first directory block starts with "." and "..", leaving
	// DirentsPerBlock-2 free slots. Fill every one of them, and every
	// remaining inode, so that the next Create must both grow the
	// directory and allocate the last... but there is no last inode.
	for i := 0; i < layout.DirentsPerBlock-2; i++ {
		inum := e.Create(0, layout.TypeRegularFile, fmt.Sprintf("f%d", i))
		t.Require().Greaterf(inum, int32(0), "create %d", i)
	}

	freeBlocksBefore := countFreeBlocks(img)
	rootBefore := func() layout.Dinode {
		img.Lock()
		defer img.Unlock()
		return img.Inode(0)
	}()

	t.EqualValues(metadata.Failure, e.Create(0, layout.TypeRegularFile, "overflow"))

	rootAfter := func() layout.Dinode {
		img.Lock()
		defer img.Unlock()
		return img.Inode(0)
	}()
	t.Equal(rootBefore, rootAfter, "a failed Create must not touch the parent inode")
	t.Equal(freeBlocksBefore, countFreeBlocks(img), "a failed Create must not consume a data block")
}

func countFreeBlocks(img *diskimage.Image) int {
	img.Lock()
	defer img.Unlock()
	free := 0
	for i := 0; i < img.NumBlocks(); i++ {
		if !img.ReadBit(i) {
			free++
		}
	}
	return free
}

// S6
func (t *EngineTest) TestLookupSurvivesReopen() {
	k := t.e.Create(0, layout.TypeRegularFile, "a")
	t.Require().Greater(k, int32(0))

	path := t.img.Path()
	t.Require().NoError(t.img.Close())

	reopened, err := diskimage.OpenOrCreate(path, diskimage.Params{})
	t.Require().NoError(err)
	t.img = reopened // TearDownTest closes this

	e2 := metadata.NewEngine(reopened)
	t.EqualValues(k, e2.Lookup(0, "a"))
}
