package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"paramspace/internal/config"
	"paramspace/internal/core"
	"paramspace/internal/view"
	"paramspace/internal/watch"
	"paramspace/internal/workspace"
	"paramspace/pkg/statepoint"
)

func newInitCmd(a *app) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "init [project-id]",
		Short: "Create paramspace.yaml and an empty workspace",
		Long: `Create paramspace.yaml and an empty workspace in --dir.

Without a project id a random UUID is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				wd, err := a.getwd()
				if err != nil {
					return err
				}
				dir = wd
			}
			cfg := config.Defaults()
			cfg.ProjectID = uuid.NewString()
			if len(args) == 1 {
				cfg.ProjectID = args[0]
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
			path := filepath.Join(dir, config.FileName)
			if err := config.Save(path, cfg); err != nil {
				if errors.Is(err, os.ErrExist) {
					return fmt.Errorf("%s already exists", path)
				}
				return err
			}
			if err := os.MkdirAll(filepath.Join(dir, cfg.WorkspaceDir), 0o755); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Initialized project %s in %s\n", cfg.ProjectID, dir)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "project root (default: working directory)")
	return cmd
}

func newIDCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "id <statepoint-json>",
		Short: "Print the job id of a statepoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sp, err := parseStatepoint(args[0])
			if err != nil {
				return err
			}
			id, err := statepoint.Identity(sp)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, id)
			return nil
		},
	}
}

func newOpenCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "open <statepoint-json>",
		Short: "Create the job directory for a statepoint and print its path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sp, err := parseStatepoint(args[0])
			if err != nil {
				return err
			}
			return a.withProject(cmd, func(ctx context.Context, p *core.Project) error {
				job, err := p.OpenJob(ctx, sp)
				if err != nil {
					return err
				}
				fmt.Fprintln(a.stdout, job.Dir)
				return nil
			})
		},
	}
}

func newFindCmd(a *app) *cobra.Command {
	var (
		filterArg string
		idsOnly   bool
	)
	cmd := &cobra.Command{
		Use:   "find",
		Short: "List jobs whose statepoints match a filter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := parseFilter(filterArg)
			if err != nil {
				return err
			}
			return a.withProject(cmd, func(ctx context.Context, p *core.Project) error {
				jobs, warnings, err := p.FindJobs(ctx, filter)
				for _, w := range warnings {
					a.warn(w)
				}
				if err != nil {
					return err
				}
				sortJobs(jobs)
				for _, job := range jobs {
					if idsOnly {
						fmt.Fprintln(a.stdout, job.ID)
						continue
					}
					b, err := statepoint.Canonicalize(job.Statepoint)
					if err != nil {
						return err
					}
					fmt.Fprintf(a.stdout, "%s %s\n", job.ID, b)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&filterArg, "filter", "f", "", "JSON object the statepoints must match")
	cmd.Flags().BoolVar(&idsOnly, "ids", false, "print job ids only")
	return cmd
}

func newViewCmd(a *app) *cobra.Command {
	var (
		filterArg      string
		prefix         string
		noPrefixFilter bool
		watchWorkspace bool
	)
	cmd := &cobra.Command{
		Use:   "view",
		Short: "Project the workspace into a link tree named by discriminating keys",
		Long: `Project the workspace into a link tree named by discriminating keys.

Each matching job is linked at <prefix>/<key>/<value>/... using only the
key-paths whose values differ between the selected statepoints. Existing
links are kept, so re-running the command completes a view. With --watch the
view is refreshed whenever jobs are added to the workspace.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := parseFilter(filterArg)
			if err != nil {
				return err
			}
			req := core.ViewRequest{Filter: filter, Prefix: prefix, PrefixFilter: !noPrefixFilter}
			return a.withProject(cmd, func(ctx context.Context, p *core.Project) error {
				if err := a.createView(ctx, p, req); err != nil {
					return err
				}
				if !watchWorkspace {
					return nil
				}
				return a.watchView(ctx, p, req)
			})
		},
	}
	cmd.Flags().StringVarP(&filterArg, "filter", "f", "", "JSON object selecting the jobs to project")
	cmd.Flags().StringVar(&prefix, "prefix", "", "view root relative to the project root (default: view_prefix from the config)")
	cmd.Flags().BoolVar(&noPrefixFilter, "no-prefix-filter", false, "do not nest the view under the filter's key/value pairs")
	cmd.Flags().BoolVar(&watchWorkspace, "watch", false, "keep running and refresh the view as jobs appear")
	return cmd
}

func (a *app) createView(ctx context.Context, p *core.Project, req core.ViewRequest) error {
	res, err := p.CreateView(ctx, req)
	for _, w := range res.Warnings {
		a.warn(w)
	}
	if err != nil {
		return err
	}
	for _, c := range res.Report.Conflicts {
		a.warn(c)
	}
	fmt.Fprintf(a.stdout, "%s: %d jobs, %d linked, %d unchanged, %d conflicts (keys: %s)\n",
		res.Root, res.Jobs, res.Report.Linked, res.Report.Skipped, len(res.Report.Conflicts), keyList(res.Keys))
	return nil
}

func (a *app) watchView(ctx context.Context, p *core.Project, req core.ViewRequest) error {
	refresh := make(chan struct{}, 1)
	w, err := watch.New(p.WorkspaceDirectory(), func([]watch.Change) {
		select {
		case refresh <- struct{}{}:
		default:
		}
	}, watch.Options{ManifestName: p.Config().ManifestName, Logger: a.logger})
	if err != nil {
		return err
	}
	defer w.Stop()
	if err := w.Start(ctx); err != nil {
		return err
	}
	a.logger.Info("watching workspace", "dir", p.WorkspaceDirectory())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-refresh:
			if err := a.createView(ctx, p, req); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				a.warn(err)
			}
		}
	}
}

func newStatepointsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "statepoints",
		Short: "Read and write the statepoint registry document",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "write [statepoint-json...]",
			Short: "Merge statepoints into the registry (all workspace jobs when none are given)",
			RunE: func(cmd *cobra.Command, args []string) error {
				var sps []statepoint.Object
				for _, arg := range args {
					sp, err := parseStatepoint(arg)
					if err != nil {
						return err
					}
					sps = append(sps, sp)
				}
				return a.withProject(cmd, func(ctx context.Context, p *core.Project) error {
					n, err := p.WriteStatepoints(ctx, sps)
					if err != nil {
						return err
					}
					fmt.Fprintf(a.stdout, "registry holds %d statepoints\n", n)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "read",
			Short: "Print the registry as JSON",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.withProject(cmd, func(ctx context.Context, p *core.Project) error {
					all, err := p.ReadStatepoints(ctx)
					if err != nil {
						return err
					}
					out := make(map[string]statepoint.Object, len(all))
					for id, sp := range all {
						out[id.String()] = sp
					}
					b, err := json.MarshalIndent(out, "", "  ")
					if err != nil {
						return err
					}
					fmt.Fprintln(a.stdout, string(b))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Remove the registry document so the next write regenerates it",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.withProject(cmd, func(ctx context.Context, p *core.Project) error {
					existed, err := p.ResetStatepoints(ctx)
					if err != nil {
						return err
					}
					if !existed {
						fmt.Fprintln(a.stdout, "registry was empty")
						return nil
					}
					fmt.Fprintln(a.stdout, "registry removed")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "info",
			Short: "Print registry document metadata without reading it",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.withProject(cmd, func(ctx context.Context, p *core.Project) error {
					st, err := p.StatRegistry(ctx)
					if err != nil {
						return err
					}
					entries := "unknown"
					if st.Entries >= 0 {
						entries = strconv.Itoa(st.Entries)
					}
					fmt.Fprintf(a.stdout, "key: %s\ndriver: %s\nentries: %s\nsize: %d\nmodified: %s\n",
						st.Key, st.Driver, entries, st.Size, st.LastModified.Format(time.RFC3339))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "get <job-id>",
			Short: "Print the statepoint of a job, falling back to the registry",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := statepoint.ParseID(args[0])
				if err != nil {
					return err
				}
				return a.withProject(cmd, func(ctx context.Context, p *core.Project) error {
					sp, err := p.GetStatepoint(ctx, id)
					if err != nil {
						return err
					}
					b, err := statepoint.Canonicalize(sp)
					if err != nil {
						return err
					}
					fmt.Fprintln(a.stdout, string(b))
					return nil
				})
			},
		},
	)
	return cmd
}

func newMetricsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Scan the workspace and print Prometheus metrics",
		Long: `Scan the workspace and print Prometheus metrics in the text exposition
format, suitable for the node_exporter textfile collector.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withProject(cmd, func(ctx context.Context, p *core.Project) error {
				if _, _, err := p.FindJobs(ctx, nil); err != nil {
					return err
				}
				return a.metrics.WriteText(a.stdout)
			})
		},
	}
}

func newIndexCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Maintain the job index",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "rebuild",
		Short: "Re-derive the job index from the workspace directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withProject(cmd, func(ctx context.Context, p *core.Project) error {
				warnings, err := p.RebuildIndex(ctx)
				for _, w := range warnings {
					a.warn(w)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "index rebuilt (%d corrupt entries skipped)\n", len(warnings))
				return nil
			})
		},
	})
	return cmd
}

func parseFilter(arg string) (statepoint.Object, error) {
	if strings.TrimSpace(arg) == "" {
		return nil, nil
	}
	f, err := statepoint.ParseObject([]byte(arg))
	if err != nil {
		return nil, fmt.Errorf("invalid filter %q: %w", arg, err)
	}
	return f, nil
}

func sortJobs(jobs []workspace.Job) {
	slices.SortFunc(jobs, func(x, y workspace.Job) int { return strings.Compare(string(x.ID), string(y.ID)) })
}

func keyList(keys []view.KeyPath) string {
	if len(keys) == 0 {
		return "none"
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k.String()
	}
	return strings.Join(parts, ", ")
}
