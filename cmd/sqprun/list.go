// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/curioloop/sqpmethod/problem"
	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the built-in problems",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%-12s %3s %3s %14s\n", "name", "n", "m", "f*")
			for _, c := range problem.Cases() {
				if _, err := fmt.Fprintf(w, "%-12s %3d %3d %14.8g\n", c.Name, c.N, c.M, c.WantF); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
