/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package main

import (
	"fmt"
	"os"

	"github.com/kentakayama/netmap-over-http/internal/keys"
	"github.com/spf13/cobra"
	"github.com/veraison/go-cose"
)

func keygenCmd() *cobra.Command {
	var (
		alg string
		out string
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a private COSE_Key",
		Long:  `Generate a private COSE_Key and write its public part next to it with a .pub suffix.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var algorithm cose.Algorithm
			switch alg {
			case "EdDSA":
				algorithm = cose.AlgorithmEdDSA
			case "ES256":
				algorithm = cose.AlgorithmES256
			default:
				return fmt.Errorf("unsupported algorithm %q (EdDSA or ES256)", alg)
			}

			key, err := keys.Generate(algorithm)
			if err != nil {
				return err
			}
			data, err := key.MarshalPrivate()
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o600); err != nil {
				return fmt.Errorf("failed to write key: %w", err)
			}
			if err := os.WriteFile(out+".pub", key.Public().COSEKey, 0o644); err != nil {
				return fmt.Errorf("failed to write public key: %w", err)
			}

			keyHash, err := key.Public().Hash()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", out, keyHash)
			return nil
		},
	}

	cmd.Flags().StringVar(&alg, "alg", "EdDSA", "signature algorithm: EdDSA or ES256")
	cmd.Flags().StringVarP(&out, "out", "o", "network_map_key.cbor", "output file")

	return cmd
}
