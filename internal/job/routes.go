package job

import (
	"context"
	"fmt"

	"github.com/sshcollectorpro/netops/internal/batch"
	"github.com/sshcollectorpro/netops/internal/config"
	"github.com/sshcollectorpro/netops/internal/inventory"
	"github.com/sshcollectorpro/netops/internal/output"
	"github.com/sshcollectorpro/netops/internal/parser"
	"github.com/sshcollectorpro/netops/pkg/logger"
	"github.com/sshcollectorpro/netops/pkg/ssh"
)

// RoutesHeader 路由表头
var RoutesHeader = []string{"Route"}

// Routes 采集路由前缀，配置了站点网段文件时一并比对
type Routes struct {
	base
	command     string
	siteSubnets string
}

func (Routes) Name() string { return "routes" }

func (j *Routes) Run(ctx context.Context, dev *batch.Device) (batch.Payload, error) {
	res := dev.RunWith(ctx, j.command, ssh.RunOptions{MaxIterations: showMaxIterations})
	if res.Degraded() {
		dev.Log().Warn("Prompt not detected (routes). Output may be incomplete.")
	}
	routes := parser.ParseRoutes(res.RawOutput)
	dev.Log().Infof("Parsed %d routes", len(routes))
	return routes, nil
}

func (j *Routes) Finish(ctx context.Context, report *batch.Report) ([]output.Artifact, error) {
	var routes []string
	var rows [][]string
	for _, p := range report.Payloads() {
		rs, ok := p.([]string)
		if !ok {
			continue
		}
		for _, r := range rs {
			routes = append(routes, r)
			rows = append(rows, []string{r})
		}
	}
	a, err := j.w.WriteCSV(ctx, "routes.csv", RoutesHeader, rows)
	if err != nil {
		return nil, err
	}
	arts := []output.Artifact{a}
	if j.siteSubnets == "" {
		return arts, nil
	}

	subnets, err := inventory.LoadSiteSubnets(j.siteSubnets)
	if err != nil {
		logger.WithError(err).Warn("Skipping route comparison")
		return arts, nil
	}
	cmp, err := WriteRouteComparison(ctx, j.w, routes, subnets)
	if err != nil {
		return arts, err
	}
	return append(arts, cmp), nil
}

// WriteRouteComparison 比对路由与站点网段并写出 route_comparison_subnet.csv
func WriteRouteComparison(ctx context.Context, w *output.Writer, routes []string, subnets []inventory.SiteSubnet) (output.Artifact, error) {
	matches := inventory.CompareRoutes(routes, subnets)
	rows := make([][]string, 0, len(matches))
	for _, m := range matches {
		rows = append(rows, m.Record())
	}
	logger.Infof("Compared %d routes against %d site subnets, %d matched", len(routes), len(subnets), len(matches))
	return w.WriteCSV(ctx, "route_comparison_subnet.csv", inventory.RouteMatchHeader, rows)
}

func init() {
	Register("routes", func(cfg *config.Config, w *output.Writer) (Job, error) {
		if cfg.Jobs.Routes.Command == "" {
			return nil, fmt.Errorf("routes: %w", ErrNoCommand)
		}
		return &Routes{base: base{cfg, w}, command: cfg.Jobs.Routes.Command, siteSubnets: cfg.Jobs.Routes.SiteSubnets}, nil
	})
}
