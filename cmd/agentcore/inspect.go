package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ngoclaw/agentcore/internal/application"
	"github.com/ngoclaw/agentcore/internal/infrastructure/eventbus"
	"github.com/ngoclaw/agentcore/internal/interfaces/cli"
)

// openStores 以只读检查方式打开存储
func openStores(ctx context.Context) (*application.App, error) {
	_, cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return application.NewAppCLI(ctx, cfg, log)
}

// ─── cleanup ───

func runCleanup(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := openStores(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	maxAge, _ := cmd.Flags().GetDuration("max-age")
	if maxAge <= 0 {
		maxAge = app.AppConfig().Dispatch.RetentionMaxAge
	}
	if maxAge <= 0 {
		return fmt.Errorf("retention is disabled; pass --max-age")
	}

	n, err := app.Store().CleanupOlderThan(ctx, maxAge)
	if err != nil {
		return err
	}
	cli.Removed(cmd.OutOrStdout(), n, maxAge)
	return nil
}

// ─── conversations ───

func newConversationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "查看已保存的会话",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "列出会话",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := openStores(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			refs, err := app.Store().ListConversations(ctx)
			if err != nil {
				return err
			}
			if agent, _ := cmd.Flags().GetString("agent"); agent != "" {
				filtered := refs[:0]
				for _, ref := range refs {
					if ref.AgentName == agent {
						filtered = append(filtered, ref)
					}
				}
				refs = filtered
			}
			cli.Conversations(cmd.OutOrStdout(), refs)
			return nil
		},
	}
	listCmd.Flags().String("agent", "", "只列出该代理的会话")

	showCmd := &cobra.Command{
		Use:   "show <agent> <id>",
		Short: "显示会话全部消息",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := openStores(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			snap, err := app.Store().LoadConversation(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			cli.Conversation(cmd.OutOrStdout(), snap)
			return nil
		},
	}

	cmd.AddCommand(listCmd, showCmd)
	return cmd
}

// ─── identities ───

func newIdentitiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identities",
		Short: "查看代理身份",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "列出已保存的代理身份",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := openStores(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			all, err := app.Identities().FindAll(ctx)
			if err != nil {
				return err
			}
			cli.Identities(cmd.OutOrStdout(), all)
			return nil
		},
	})
	return cmd
}

// ─── events ───

func newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "查看事件日志",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			dir, _ := cmd.Flags().GetString("dir")
			if dir == "" {
				dir = cfg.Events.JournalDir
			}
			if dir == "" {
				return fmt.Errorf("no journal directory configured; pass --dir")
			}
			eventType, _ := cmd.Flags().GetString("type")
			since, _ := cmd.Flags().GetDuration("since")
			var cutoff time.Time
			if since > 0 {
				cutoff = time.Now().Add(-since)
			}

			out := cmd.OutOrStdout()
			shown := 0
			_, err = eventbus.ReadJournal(cmd.Context(), dir, func(e eventbus.JournalEntry) error {
				if eventType != "" {
					if ok, _ := filepath.Match(eventType, e.Type); !ok {
						return nil
					}
				}
				if !cutoff.IsZero() && e.Timestamp.Before(cutoff) {
					return nil
				}
				cli.JournalEntry(out, e)
				shown++
				return nil
			})
			if err != nil {
				return err
			}
			if shown == 0 {
				fmt.Fprintln(out, "no events")
			}
			return nil
		},
	}
	cmd.Flags().String("dir", "", "日志目录 (默认 events.journal_dir)")
	cmd.Flags().String("type", "", "按事件类型过滤，支持通配符 (如 dispatch.*)")
	cmd.Flags().Duration("since", 0, "只显示最近这段时间内的事件")
	return cmd
}
