package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/recoverly-io/recoverly/internal/controlplane"
	"github.com/recoverly-io/recoverly/internal/model"
	"github.com/recoverly-io/recoverly/internal/store"
)

var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "Manage protection groups",
}

var (
	groupName          string
	groupAccount       string
	groupRegion        string
	groupServers       []string
	groupTags          map[string]string
	groupVersion       int64
	groupInstanceType  string
	groupSubnet        string
	groupSGs           []string
	groupIAMProfile    string
	groupStaticIP      string
	groupCopyPrivateIP bool
)

var groupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a protection group",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := newService(ctx)
		if err != nil {
			return err
		}
		g, err := svc.CreateProtectionGroup(ctx, controlplane.CreateProtectionGroupRequest{
			Name:            groupName,
			AccountID:       groupAccount,
			Region:          groupRegion,
			SourceServerIDs: groupServers,
			SelectionTags:   groupTags,
			LaunchConfig:    launchConfigFromFlags(),
		})
		if err != nil {
			return err
		}
		return printJSON(g)
	},
}

var groupUpdateCmd = &cobra.Command{
	Use:   "update <group-id>",
	Short: "Update a protection group (requires the last observed version)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := newService(ctx)
		if err != nil {
			return err
		}

		patch := store.GroupPatch{}
		if cmd.Flags().Changed("name") {
			patch.Name = &groupName
		}
		if cmd.Flags().Changed("server") {
			patch.SourceServerIDs = &groupServers
		}
		if cmd.Flags().Changed("tag") {
			patch.SelectionTags = &groupTags
		}
		if launchConfigFlagsChanged(cmd) {
			cfg := launchConfigFromFlags()
			patch.LaunchConfig = &cfg
		}

		g, err := svc.UpdateProtectionGroup(ctx, controlplane.UpdateProtectionGroupRequest{
			GroupID: args[0],
			Version: groupVersion,
			Patch:   patch,
		})
		if err != nil {
			return err
		}
		return printJSON(g)
	},
}

var groupShowCmd = &cobra.Command{
	Use:   "show <group-id>",
	Short: "Show a protection group and its sync status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := newService(ctx)
		if err != nil {
			return err
		}
		g, err := svc.GetProtectionGroup(ctx, controlplane.GetProtectionGroupRequest{GroupID: args[0]})
		if err != nil {
			return err
		}
		return printJSON(g)
	},
}

var groupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List protection groups",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := newService(ctx)
		if err != nil {
			return err
		}
		groups, err := svc.ListProtectionGroups(ctx)
		if err != nil {
			return err
		}
		for _, g := range groups {
			fmt.Printf("%s  v%d  %s  %s/%s  servers=%d\n",
				g.GroupID, g.Version, g.Name, g.AccountID, g.Region, len(g.SourceServerIDs))
		}
		return nil
	},
}

func launchConfigFromFlags() model.LaunchConfig {
	return model.LaunchConfig{
		InstanceType:     groupInstanceType,
		SubnetID:         groupSubnet,
		SecurityGroupIDs: groupSGs,
		IAMProfile:       groupIAMProfile,
		StaticIP:         groupStaticIP,
		CopyPrivateIP:    groupCopyPrivateIP,
	}
}

func launchConfigFlagsChanged(cmd *cobra.Command) bool {
	for _, name := range []string{"instance-type", "subnet", "security-group", "iam-profile", "static-ip", "copy-private-ip"} {
		if cmd.Flags().Changed(name) {
			return true
		}
	}
	return false
}

func addLaunchConfigFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&groupInstanceType, "instance-type", "", "Target instance type")
	cmd.Flags().StringVar(&groupSubnet, "subnet", "", "Target subnet id")
	cmd.Flags().StringSliceVar(&groupSGs, "security-group", nil, "Security group id (repeatable)")
	cmd.Flags().StringVar(&groupIAMProfile, "iam-profile", "", "IAM instance profile name")
	cmd.Flags().StringVar(&groupStaticIP, "static-ip", "", "Static private IP")
	cmd.Flags().BoolVar(&groupCopyPrivateIP, "copy-private-ip", false, "Copy the source private IP")
}

func init() {
	for _, cmd := range []*cobra.Command{groupCreateCmd, groupUpdateCmd} {
		cmd.Flags().StringVar(&groupName, "name", "", "Group name")
		cmd.Flags().StringArrayVar(&groupServers, "server", nil, "Source server id (repeatable)")
		cmd.Flags().StringToStringVar(&groupTags, "tag", nil, "Selection tag (key=value, repeatable)")
		addLaunchConfigFlags(cmd)
	}
	groupCreateCmd.Flags().StringVar(&groupAccount, "account", "", "Owning account id")
	groupCreateCmd.Flags().StringVar(&groupRegion, "region", "", "Region")
	groupUpdateCmd.Flags().Int64Var(&groupVersion, "version", 0, "Last observed record version")
	_ = groupUpdateCmd.MarkFlagRequired("version")

	groupCmd.AddCommand(groupCreateCmd)
	groupCmd.AddCommand(groupUpdateCmd)
	groupCmd.AddCommand(groupShowCmd)
	groupCmd.AddCommand(groupListCmd)
}
