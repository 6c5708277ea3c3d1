package main

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/yairfalse/cirrus/controlplane"
	"github.com/yairfalse/cirrus/pkg/resource"
)

// paramFlags binds the sparse action parameters to flags. Only flags the
// user actually set end up in the action.
type paramFlags struct {
	count            int32
	instanceClass    string
	instanceType     string
	storageGB        int32
	multiAZ          bool
	applyImmediately bool
	forceFailover    bool
	force            bool
	nodeIDs          []string
	nodeType         string
	numNodes         int32
	snapshotID       string
	taskDefinition   string
}

func (p *paramFlags) register(fs *pflag.FlagSet) {
	fs.Int32Var(&p.count, "count", 0, "Desired task count (scale)")
	fs.StringVar(&p.instanceClass, "instance-class", "", "Database instance class (modify)")
	fs.StringVar(&p.instanceType, "instance-type", "", "Instance type (modify, instance must be stopped)")
	fs.Int32Var(&p.storageGB, "storage-gb", 0, "Allocated storage in GB (modify)")
	fs.BoolVar(&p.multiAZ, "multi-az", false, "Multi-AZ deployment (modify)")
	fs.BoolVar(&p.applyImmediately, "apply-immediately", false, "Apply database changes immediately")
	fs.BoolVar(&p.forceFailover, "force-failover", false, "Force failover on database reboot")
	fs.BoolVar(&p.force, "force", false, "Force stop an instance")
	fs.StringSliceVar(&p.nodeIDs, "node-ids", nil, "Cache node IDs to reboot")
	fs.StringVar(&p.nodeType, "node-type", "", "Cache node type (modify)")
	fs.Int32Var(&p.numNodes, "num-nodes", 0, "Cache node count (modify)")
	fs.StringVar(&p.snapshotID, "snapshot-id", "", "Snapshot identifier")
	fs.StringVar(&p.taskDefinition, "task-definition", "", "Service task definition (modify)")
}

func (p *paramFlags) params(fs *pflag.FlagSet) resource.Params {
	var out resource.Params
	if fs.Changed("count") {
		out.Count = resource.Int32(p.count)
	}
	if fs.Changed("instance-class") {
		out.InstanceClass = resource.String(p.instanceClass)
	}
	if fs.Changed("instance-type") {
		out.InstanceType = resource.String(p.instanceType)
	}
	if fs.Changed("storage-gb") {
		out.StorageGB = resource.Int32(p.storageGB)
	}
	if fs.Changed("multi-az") {
		out.MultiAZ = resource.Bool(p.multiAZ)
	}
	if fs.Changed("apply-immediately") {
		out.ApplyImmediately = resource.Bool(p.applyImmediately)
	}
	if fs.Changed("force-failover") {
		out.ForceFailover = resource.Bool(p.forceFailover)
	}
	if fs.Changed("force") {
		out.Force = resource.Bool(p.force)
	}
	if fs.Changed("node-ids") {
		out.NodeIDs = p.nodeIDs
	}
	if fs.Changed("node-type") {
		out.NodeType = resource.String(p.nodeType)
	}
	if fs.Changed("num-nodes") {
		out.NumNodes = resource.Int32(p.numNodes)
	}
	if fs.Changed("snapshot-id") {
		out.SnapshotID = resource.String(p.snapshotID)
	}
	if fs.Changed("task-definition") {
		out.TaskDefinition = resource.String(p.taskDefinition)
	}
	return out
}

func newExecCmd(opts *globalOptions) *cobra.Command {
	var pf paramFlags

	cmd := &cobra.Command{
		Use:   "exec <target> <action>",
		Short: "Execute a lifecycle action against one resource",
		Long: `Execute start, stop, restart, scale, modify or snapshot against one
resource addressed as family/region/[group/]id.

Every attempt is recorded in the command history, including rejected ones.`,
		Example: `  cirrus exec compute-service/us-west-2/prod/api scale --count 4
  cirrus exec managed-database/us-west-2/orders stop
  cirrus exec managed-database/us-west-2/orders snapshot --snapshot-id pre-migration
  cirrus exec compute-instance/us-west-2/i-0abc modify --instance-type t3.large`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := resource.ParseKey(args[0])
			if err != nil {
				return err
			}
			kind, err := resource.ParseActionKind(args[1])
			if err != nil {
				return err
			}
			action := resource.ServiceAction{Kind: kind, Params: pf.params(cmd.Flags())}

			console, err := opts.openConsole(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = console.Close() }()

			result, execErr := console.ExecuteAction(cmd.Context(), key, action)
			if opts.output == outputJSON {
				if err := printJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
			} else {
				printCommand(cmd.OutOrStdout(), result)
			}
			if execErr != nil {
				return fmt.Errorf("%s %s: %w", kind, key, execErr)
			}
			return awaitScaleBacks(cmd, console)
		},
	}

	pf.register(cmd.Flags())
	return cmd
}

func newBatchCmd(opts *globalOptions) *cobra.Command {
	var pf paramFlags

	cmd := &cobra.Command{
		Use:   "batch <action> <target>...",
		Short: "Execute one action against many resources",
		Long: `Execute the same action against several resources concurrently.
A failure on one target never aborts the others.`,
		Example: `  cirrus batch stop compute-service/us-west-2/dev/api compute-service/us-west-2/dev/worker`,
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := resource.ParseActionKind(args[0])
			if err != nil {
				return err
			}
			keys := make([]resource.Key, 0, len(args)-1)
			for _, a := range args[1:] {
				key, err := resource.ParseKey(a)
				if err != nil {
					return err
				}
				keys = append(keys, key)
			}

			console, err := opts.openConsole(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = console.Close() }()

			result := console.ExecuteBatchKeys(cmd.Context(), keys, resource.ServiceAction{
				Kind:   kind,
				Params: pf.params(cmd.Flags()),
			})
			if opts.output == outputJSON {
				if err := printJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
			} else {
				printBatch(cmd.OutOrStdout(), result)
			}
			waitErr := awaitScaleBacks(cmd, console)
			if len(result.Failed) > 0 {
				return fmt.Errorf("%d of %d targets failed", len(result.Failed), len(keys))
			}
			return waitErr
		},
	}

	pf.register(cmd.Flags())
	return cmd
}

// awaitScaleBacks keeps a one-shot command alive until the scale-backs of
// emulated restarts have run. Closing the console earlier would cancel them
// and leave the services at zero tasks.
func awaitScaleBacks(cmd *cobra.Command, console *controlplane.Console) error {
	pending := console.PendingTasks()
	if len(pending) == 0 {
		return nil
	}
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Waiting for %d scheduled scale back(s), due by %s (Ctrl-C cancels them)\n",
		len(pending), pending[len(pending)-1].DueAt.Format(time.TimeOnly))

	if err := console.WaitForTasks(cmd.Context()); err != nil {
		for _, t := range console.PendingTasks() {
			log.Warn().
				Str("task", t.ID).
				Str("target", t.Target.String()).
				Int32("count", t.Count).
				Msg("interrupted before scale back; resource left at zero capacity")
		}
		return fmt.Errorf("interrupted before scale back: %w", err)
	}
	return nil
}
