/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/kentakayama/netmap-over-http/internal/client"
	"github.com/kentakayama/netmap-over-http/internal/config"
	"github.com/kentakayama/netmap-over-http/internal/domain/model"
	"github.com/kentakayama/netmap-over-http/internal/keys"
	"github.com/kentakayama/netmap-over-http/internal/signed"
	"github.com/spf13/cobra"
)

func clientCmd() *cobra.Command {
	var (
		cfg      config.ClientConfig
		trustKey string
	)

	newClient := func() (*client.Client, error) {
		var trusted model.PublicKey
		if trustKey != "" {
			pub, err := keys.LoadPublic(trustKey)
			if err != nil {
				return nil, err
			}
			trusted = pub
		}
		return client.New(cfg, trusted, setupLogger(verbose))
	}

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Talk to a network map server as a node",
	}
	cmd.PersistentFlags().StringVar(&cfg.BaseURL, "url", "http://localhost"+config.DefaultAddr, "network map server URL")
	cmd.PersistentFlags().BoolVar(&cfg.InsecureTLS, "insecure", false, "skip TLS certificate verification")
	cmd.PersistentFlags().DurationVar(&cfg.Timeout, "timeout", config.DefaultClientTimeout, "request timeout")
	cmd.PersistentFlags().StringVar(&trustKey, "trust", "", "network map operator COSE_Key file")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "publish <signed-node-info.cbor>",
			Short: "Publish a signed node info",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				a, err := signed.Decode[model.NodeInfo](data)
				if err != nil {
					return err
				}
				c, err := newClient()
				if err != nil {
					return err
				}
				hash, err := c.PublishNodeInfo(cmd.Context(), a)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), hash)
				return nil
			},
		},
		&cobra.Command{
			Use:   "fetch",
			Short: "Download and verify the current network map and its node infos",
			RunE: func(cmd *cobra.Command, args []string) error {
				if trustKey == "" {
					return fmt.Errorf("--trust is required to verify the network map")
				}
				c, err := newClient()
				if err != nil {
					return err
				}
				m, err := c.GetNetworkMap(cmd.Context())
				if err != nil {
					return err
				}
				params, err := c.GetNetworkParameters(cmd.Context(), m.NetworkParametersHash)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "parameters %s epoch=%d modified=%s\n",
					m.NetworkParametersHash, params.Epoch, params.ModifiedTime.Format(time.RFC3339))
				for _, h := range m.NodeInfoHashes {
					info, err := c.GetNodeInfo(cmd.Context(), h)
					if err != nil {
						return fmt.Errorf("node info %s: %w", h, err)
					}
					fmt.Fprintf(out, "node %s %s %v\n", h, info.LegalIdentities[0].Name, info.Addresses)
				}
				return nil
			},
		},
		nodeInfoSignCmd(),
	)
	return cmd
}

// nodeInfoSignCmd builds a signed node info from a node key, for publishing with "client publish".
func nodeInfoSignCmd() *cobra.Command {
	var (
		name      string
		nodeKey   string
		addresses []string
		platform  int
		serial    int64
		out       string
	)

	cmd := &cobra.Command{
		Use:   "sign-node-info",
		Short: "Create a signed node info for a node key",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := keys.Load(nodeKey)
			if err != nil {
				return err
			}
			if serial == 0 {
				serial = time.Now().Unix()
			}
			a, err := signed.Sign(model.NodeInfo{
				Addresses:       addresses,
				LegalIdentities: []model.Identity{key.Identity(name)},
				PlatformVersion: platform,
				Serial:          serial,
			}, key)
			if err != nil {
				return err
			}
			data, err := a.Encode()
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), a.Hash())
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "legal name, e.g. O=Bank A,L=London,C=GB")
	cmd.Flags().StringVar(&nodeKey, "node-key", "", "node private COSE_Key file")
	cmd.Flags().StringSliceVar(&addresses, "address", []string{"localhost:10002"}, "peer address")
	cmd.Flags().IntVar(&platform, "platform-version", 4, "platform version")
	cmd.Flags().Int64Var(&serial, "serial", 0, "node info serial (default: current unix time)")
	cmd.Flags().StringVarP(&out, "out", "o", "node-info.cbor", "output file")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("node-key")

	return cmd
}
