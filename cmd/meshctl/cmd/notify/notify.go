package notify

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/hashjosh/meshauth/pkg/sdk"
)

var (
	serverURL   string
	serviceID   string
	actingUser  string
	recipient   string
	destination string
	body        string
)

// NotifyCmd pushes a notification to a user as a trusted internal service.
var NotifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Push a notification to a user's queue",
	Long: `Posts to /internal/notifications on the realtime gateway, identifying
as the internal service given by --as. The service must be listed in the
realtime gateway's trust.internal_service_ids.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if serviceID == "" {
			serviceID = os.Getenv("MESHCTL_SERVICE_ID")
		}
		if serviceID == "" {
			return fmt.Errorf("--as (or MESHCTL_SERVICE_ID) is required")
		}
		if !json.Valid([]byte(body)) {
			return fmt.Errorf("--body must be valid JSON")
		}

		ctx := cmd.Context()
		if actingUser != "" {
			ctx = sdk.WithActingUser(ctx, actingUser)
		}

		client := sdk.NewServiceClient(serverURL, serviceID)
		res, err := client.Notify(ctx, sdk.Notification{
			Recipient:   recipient,
			Destination: destination,
			Body:        json.RawMessage(body),
		})
		if err != nil {
			return err
		}

		if res.Buffered {
			pterm.Info.Printf("%s is offline; notification buffered\n", recipient)
			return nil
		}
		pterm.Success.Printf("Delivered to %d connection(s) of %s\n", res.Delivered, recipient)
		return nil
	},
}

// SetServerURL sets the realtime gateway URL
func SetServerURL(url string) {
	serverURL = url
}

func init() {
	NotifyCmd.Flags().StringVar(&serviceID, "as", "", "Internal service identifier sent as X-Internal-Service")
	NotifyCmd.Flags().StringVar(&actingUser, "acting-user", "", "User ID the call is made on behalf of")
	NotifyCmd.Flags().StringVar(&recipient, "to", "", "Recipient username")
	NotifyCmd.Flags().StringVar(&destination, "destination", "/queue/notifications", "Queue of the recipient")
	NotifyCmd.Flags().StringVar(&body, "body", "{}", "JSON message body")
	_ = NotifyCmd.MarkFlagRequired("to")
}
