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

// Command mfsclient is a thin CLI over the client package, one
// subcommand per MFS operation, for scripting against a running
// mfsserver without writing Go.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/clarkzinzow/mfs/client"
	"github.com/clarkzinzow/mfs/internal/layout"
	"github.com/spf13/cobra"
)

var serverAddr string

var rootCmd = &cobra.Command{
	Use:   "mfsclient",
	Short: "Issue one MFS operation against a running mfsserver",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "localhost:3000", "server address, host:port")

	rootCmd.AddCommand(lookupCmd, statCmd, readCmd, writeCmd, createCmd, unlinkCmd, shutdownCmd)
}

func dial() (*client.Client, error) {
	return client.Dial(serverAddr)
}

func atoi32(s string) (int32, error) {
	n, err := strconv.ParseInt(s, 10, 32)
	return int32(n), err
}

var lookupCmd = &cobra.Command{
	Use:   "lookup <pinum> <name>",
	Args:  cobra.ExactArgs(2),
	Short: "Resolve a name to an inode number within a directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		pinum, err := atoi32(args[0])
		if err != nil {
			return err
		}
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()
		inum, err := c.Lookup(pinum, args[1])
		if err != nil {
			return err
		}
		fmt.Println(inum)
		return nil
	},
}

var statCmd = &cobra.Command{
	Use:   "stat <inum>",
	Args:  cobra.ExactArgs(1),
	Short: "Print an inode's type and size",
	RunE: func(cmd *cobra.Command, args []string) error {
		inum, err := atoi32(args[0])
		if err != nil {
			return err
		}
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()
		typ, size, rc, err := c.Stat(inum)
		if err != nil {
			return err
		}
		if rc < 0 {
			return fmt.Errorf("stat: rc=%d", rc)
		}
		fmt.Printf("type=%d size=%d\n", typ, size)
		return nil
	},
}

var readCmd = &cobra.Command{
	Use:   "read <inum> <block>",
	Args:  cobra.ExactArgs(2),
	Short: "Read one data block of a file to stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		inum, err := atoi32(args[0])
		if err != nil {
			return err
		}
		block, err := atoi32(args[1])
		if err != nil {
			return err
		}
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()
		data, rc, err := c.Read(inum, block)
		if err != nil {
			return err
		}
		if rc < 0 {
			return fmt.Errorf("read: rc=%d", rc)
		}
		_, err = os.Stdout.Write(data[:])
		return err
	},
}

var writeCmd = &cobra.Command{
	Use:   "write <inum> <block> <file>",
	Args:  cobra.ExactArgs(3),
	Short: "Write a local file's contents to one data block of a file",
	RunE: func(cmd *cobra.Command, args []string) error {
		inum, err := atoi32(args[0])
		if err != nil {
			return err
		}
		block, err := atoi32(args[1])
		if err != nil {
			return err
		}
		contents, err := os.ReadFile(args[2])
		if err != nil {
			return err
		}
		if len(contents) > layout.BSIZE {
			return fmt.Errorf("write: %s is %d bytes, exceeds block size %d", args[2], len(contents), layout.BSIZE)
		}
		var buf [layout.BSIZE]byte
		copy(buf[:], contents)

		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()
		rc, err := c.Write(inum, block, buf)
		if err != nil {
			return err
		}
		if rc < 0 {
			return fmt.Errorf("write: rc=%d", rc)
		}
		return nil
	},
}

var createType string

var createCmd = &cobra.Command{
	Use:   "create <pinum> <name>",
	Args:  cobra.ExactArgs(2),
	Short: "Create a file or directory within a parent directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		pinum, err := atoi32(args[0])
		if err != nil {
			return err
		}
		var typ layout.InodeType
		switch createType {
		case "file":
			typ = layout.TypeRegularFile
		case "dir":
			typ = layout.TypeDirectory
		default:
			return fmt.Errorf("create: --type must be \"file\" or \"dir\", got %q", createType)
		}

		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()
		inum, err := c.Create(pinum, typ, args[1])
		if err != nil {
			return err
		}
		if inum < 0 {
			return fmt.Errorf("create: rc=%d", inum)
		}
		fmt.Println(inum)
		return nil
	},
}

func init() {
	createCmd.Flags().StringVar(&createType, "type", "file", `entry type: "file" or "dir"`)
}

var unlinkCmd = &cobra.Command{
	Use:   "unlink <pinum> <name>",
	Args:  cobra.ExactArgs(2),
	Short: "Remove a name from a directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		pinum, err := atoi32(args[0])
		if err != nil {
			return err
		}
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()
		rc, err := c.Unlink(pinum, args[1])
		if err != nil {
			return err
		}
		if rc < 0 {
			return fmt.Errorf("unlink: rc=%d", rc)
		}
		return nil
	},
}

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Args:  cobra.NoArgs,
	Short: "Ask the server to flush, close its image, and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()
		return c.Shutdown()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
