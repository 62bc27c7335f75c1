/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/kentakayama/netmap-over-http/internal/config"
	"github.com/kentakayama/netmap-over-http/internal/domain/model"
	"github.com/kentakayama/netmap-over-http/internal/netmap"
	"github.com/kentakayama/netmap-over-http/internal/signed"
	"github.com/kentakayama/netmap-over-http/internal/util"
	"github.com/spf13/cobra"
)

func parametersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parameters",
		Short: "Manage network parameters versions",
	}
	cmd.AddCommand(
		parametersSaveCmd(),
		parametersSignCmd(),
		parametersShowCmd("latest", "Show the most recently saved version", (*netmap.NetworkMapStorage).GetLatestNetworkParameters),
		parametersShowCmd("current", "Show the version referenced by the current network map", (*netmap.NetworkMapStorage).GetCurrentSignedNetworkParameters),
	)
	return cmd
}

func parametersSaveCmd() *cobra.Command {
	var (
		params     model.NetworkParameters
		notaries   []string
		validating []string
		sign       bool
	)

	cmd := &cobra.Command{
		Use:   "save",
		Short: "Save a network parameters version",
		Long: `Save a network parameters version. Notaries are given as signed node info files;
the first legal identity of each becomes the notary identity.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, s *services, cfg config.ServerConfig) error {
				params.ModifiedTime = time.Now().UTC().Truncate(time.Second)
				for _, path := range notaries {
					n, err := notaryFromFile(path, false)
					if err != nil {
						return err
					}
					params.Notaries = append(params.Notaries, n)
				}
				for _, path := range validating {
					n, err := notaryFromFile(path, true)
					if err != nil {
						return err
					}
					params.Notaries = append(params.Notaries, n)
				}

				var sig model.Signature
				if sign {
					key, err := loadNetworkMapKey(cfg)
					if err != nil {
						return err
					}
					a, err := signed.Sign(params, key)
					if err != nil {
						return err
					}
					sig = a.Signatures[0]
				}

				hash, err := s.maps.SaveNetworkParameters(ctx, params, sig)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), hash)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&params.MinimumPlatformVersion, "min-platform-version", 1, "minimum platform version")
	cmd.Flags().IntVar(&params.Epoch, "epoch", 1, "parameters epoch")
	cmd.Flags().Int64Var(&params.MaxMessageSize, "max-message-size", 10485760, "maximum message size in bytes")
	cmd.Flags().Int64Var(&params.MaxTransactionSize, "max-transaction-size", 524288000, "maximum transaction size in bytes")
	cmd.Flags().StringArrayVar(&notaries, "notary", nil, "signed node info file of a non-validating notary")
	cmd.Flags().StringArrayVar(&validating, "validating-notary", nil, "signed node info file of a validating notary")
	cmd.Flags().BoolVar(&sign, "sign", false, "sign the version with the network map key")

	return cmd
}

func notaryFromFile(path string, validating bool) (model.NotaryInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.NotaryInfo{}, fmt.Errorf("failed to read notary node info: %w", err)
	}
	a, err := signed.Decode[model.NodeInfo](data)
	if err != nil {
		return model.NotaryInfo{}, err
	}
	info, err := signed.Verify(a)
	if err != nil {
		return model.NotaryInfo{}, fmt.Errorf("notary node info %s: %w", path, err)
	}
	if len(info.LegalIdentities) == 0 {
		return model.NotaryInfo{}, fmt.Errorf("notary node info %s has no legal identity", path)
	}
	return model.NotaryInfo{Identity: info.LegalIdentities[0], Validating: validating}, nil
}

func parametersSignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sign <hash>",
		Short: "Sign a saved network parameters version with the network map key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := model.ParseSecureHash(args[0])
			if err != nil {
				return err
			}
			return withServices(cmd, func(ctx context.Context, s *services, cfg config.ServerConfig) error {
				key, err := loadNetworkMapKey(cfg)
				if err != nil {
					return err
				}
				return s.maps.SignNetworkParameters(ctx, hash, key)
			})
		},
	}
}

func parametersShowCmd(use, short string, get func(*netmap.NetworkMapStorage, context.Context) (*netmap.SignedNetworkParameters, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, s *services, _ config.ServerConfig) error {
				a, err := get(s.maps, ctx)
				if err != nil {
					return err
				}
				if a == nil {
					return fmt.Errorf("no network parameters")
				}
				return printArtifact(cmd.OutOrStdout(), a.Hash(), a.Encode)
			})
		},
	}
}

func printArtifact(w io.Writer, hash model.SecureHash, encode func() ([]byte, error)) error {
	data, err := encode()
	if err != nil {
		return err
	}
	pretty, err := util.RenderCBORPretty(data)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "hash: %s\n%s\n", hash, pretty)
	return nil
}
