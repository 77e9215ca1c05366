package configutil

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// FlagOrViper* prefer an explicitly set flag over the viper key, so CLI
// flags beat config file and environment.

func FlagOrViperString(cmd *cobra.Command, flag, key string) string {
	if cmd != nil && cmd.Flags().Changed(flag) {
		v, _ := cmd.Flags().GetString(flag)
		return v
	}
	return viper.GetString(key)
}

func FlagOrViperInt(cmd *cobra.Command, flag, key string) int {
	if cmd != nil && cmd.Flags().Changed(flag) {
		v, _ := cmd.Flags().GetInt(flag)
		return v
	}
	return viper.GetInt(key)
}

func FlagOrViperBool(cmd *cobra.Command, flag, key string) bool {
	if cmd != nil && cmd.Flags().Changed(flag) {
		v, _ := cmd.Flags().GetBool(flag)
		return v
	}
	return viper.GetBool(key)
}

func FlagOrViperDuration(cmd *cobra.Command, flag, key string) time.Duration {
	if cmd != nil && cmd.Flags().Changed(flag) {
		v, _ := cmd.Flags().GetDuration(flag)
		return v
	}
	return viper.GetDuration(key)
}
