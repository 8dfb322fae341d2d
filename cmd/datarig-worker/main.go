/*
 * Copyright (c) 2018-2024, the datarig authors. All rights reserved.
 */
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xufeisofly/datarig/cmn/rlog"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "datarig-worker",
	Short: "Distributed, resumable document-processing pipeline worker",
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	cobra.OnInitialize(func() {
		level, _ := rootCmd.PersistentFlags().GetString("log-level")
		os.Setenv("DATARIG_LOG_LEVEL", level)
	})

	rootCmd.PersistentFlags().Bool("s3", false, "enable the s3:// backend")
	rootCmd.PersistentFlags().String("azure-account", "", "enable the az:// backend with this storage account")
	rootCmd.PersistentFlags().String("azure-key", "", "az:// backend account key")
	rootCmd.PersistentFlags().Bool("gcs", false, "enable the gs:// backend")
	rootCmd.PersistentFlags().String("hdfs-namenode", "", "enable the hdfs:// backend against this namenode")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(allocateCmd)
	rootCmd.AddCommand(sweepCmd)
}

var log = rlog.Of("cli")
