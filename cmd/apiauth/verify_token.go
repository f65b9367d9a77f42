package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/upb/apiauth/models"
	"github.com/upb/apiauth/services/authz"
)

type verifyResult struct {
	Identity   *models.Identity `json:"identity"`
	Authorized *bool            `json:"authorized,omitempty"`
}

func newVerifyTokenCmd(c *cli) *cobra.Command {
	var (
		resources  []string
		actions    []string
		mode       string
		allowAdmin bool
	)

	cmd := &cobra.Command{
		Use:   "verify-token <authorization-header>",
		Short: "Resolve an Authorization header value into an identity",
		Long: `Resolves "Bearer <jwt>" or "ApiKey <id>:<secret>" with the configured
verifier and prints the identity. With --resource and --action the identity is
also authorized against the IAM service.`,
		Example: `  apiauth verify-token "Bearer eyJhbGciOi..."
  apiauth verify-token "ApiKey key-1:secret" --resource frn::org/1 --action read`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := c.dependencies(cmd)
			if err != nil {
				return err
			}
			defer deps.Close(cmd.Context())

			identity, err := deps.Authenticator.Authenticate(cmd.Context(), args[0], nil)
			if err != nil {
				return err
			}
			if identity == nil {
				return fmt.Errorf("no credential supplied")
			}

			result := verifyResult{Identity: identity}

			if len(resources) > 0 || len(actions) > 0 {
				request := models.NewPermissionRequest(resources, actions...)
				err := deps.Authorizer.Authorize(cmd.Context(), identity, []models.PermissionRequest{request}, authz.Options{
					Mode:       models.ParseEvaluationMode(mode),
					AllowAdmin: allowAdmin,
				})
				authorized := err == nil
				result.Authorized = &authorized
				if err != nil {
					_ = writeResult(cmd, result)
					return err
				}
			}

			return writeResult(cmd, result)
		},
	}

	cmd.Flags().StringSliceVar(&resources, "resource", nil, "Resource to authorize (repeatable)")
	cmd.Flags().StringSliceVar(&actions, "action", nil, "Action to authorize (repeatable)")
	cmd.Flags().StringVar(&mode, "mode", string(models.ModeOrganization), "Evaluation mode: tenant or organization")
	cmd.Flags().BoolVar(&allowAdmin, "allow-admin", false, "Let administrator users bypass the policy check")

	return cmd
}

func writeResult(cmd *cobra.Command, result verifyResult) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
