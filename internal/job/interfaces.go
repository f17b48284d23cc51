package job

import (
	"context"
	"fmt"

	"github.com/sshcollectorpro/netops/internal/batch"
	"github.com/sshcollectorpro/netops/internal/config"
	"github.com/sshcollectorpro/netops/internal/output"
	"github.com/sshcollectorpro/netops/internal/parser"
)

// InterfacesMAC 接口描述 + MAC 地址表，按接口合并为快照 CSV
type InterfacesMAC struct{ base }

type interfacesMACPayload struct {
	rows    []parser.InterfaceMAC
	rawDesc string
	rawMAC  string
}

func (InterfacesMAC) Name() string { return "interfaces-mac" }

func (j *InterfacesMAC) Run(ctx context.Context, dev *batch.Device) (batch.Payload, error) {
	descCmd := dev.Profile.InterfaceDescriptionCommand()
	desc := dev.Run(ctx, descCmd)
	if desc.Degraded() {
		dev.Log().Warn("Prompt not detected (interfaces). Output may be incomplete.")
	}
	mac := dev.Run(ctx, dev.Profile.MACTableCommand())
	if mac.Degraded() {
		dev.Log().Warn("Prompt not detected (mac table). Output may be incomplete.")
	}

	ifaces := dev.Profile.ParseInterfaces(desc.RawOutput, descCmd)
	entries := parser.ParseMACTable(mac.RawOutput)
	dev.Log().Infof("Parsed %d interfaces and %d MAC entries", len(ifaces), len(entries))

	return &interfacesMACPayload{
		rows:    parser.JoinInterfacesMAC(dev.Target.Label(), ifaces, entries),
		rawDesc: desc.RawOutput,
		rawMAC:  mac.RawOutput,
	}, nil
}

func (j *InterfacesMAC) Finish(ctx context.Context, report *batch.Report) ([]output.Artifact, error) {
	var rows [][]string
	var arts []output.Artifact
	for _, o := range report.Outcomes {
		p, ok := o.Payload.(*interfacesMACPayload)
		if !ok {
			continue
		}
		for _, r := range p.rows {
			rows = append(rows, r.Record())
		}
		if j.cfg.Output.Debug {
			for suffix, raw := range map[string]string{"int_desc": p.rawDesc, "mac_table": p.rawMAC} {
				a, err := j.w.WriteText(ctx, fmt.Sprintf("debug_%s_%s_%s.txt", fileLabel(o.Target), suffix, j.stamp()), raw)
				if err != nil {
					return arts, err
				}
				arts = append(arts, a)
			}
		}
	}

	name := output.SnapshotFileName(j.cfg.Site, j.cfg.Output.Snapshot, j.w.Stamp)
	a, err := j.w.WriteCSV(ctx, name, parser.InterfaceMACHeader, rows)
	if err != nil {
		return arts, err
	}
	return append([]output.Artifact{a}, arts...), nil
}

// InterfaceDesc 接口描述 CSV
type InterfaceDesc struct{ base }

// InterfaceDescHeader 接口描述表头
var InterfaceDescHeader = []string{"host", "interface", "admin_status", "oper_status", "description"}

func (InterfaceDesc) Name() string { return "interface-desc" }

func (j *InterfaceDesc) Run(ctx context.Context, dev *batch.Device) (batch.Payload, error) {
	cmd := dev.Profile.InterfaceDescriptionCommand()
	res := dev.Run(ctx, cmd)
	if res.Degraded() {
		dev.Log().Warn("Prompt not detected (interfaces). Output may be incomplete.")
	}
	host := dev.Target.Label()
	var rows [][]string
	for _, it := range dev.Profile.ParseInterfaces(res.RawOutput, cmd) {
		rows = append(rows, []string{host, it.Name, it.AdminStatus, it.OperStatus, it.Description})
	}
	return rows, nil
}

func (j *InterfaceDesc) Finish(ctx context.Context, report *batch.Report) ([]output.Artifact, error) {
	var rows [][]string
	for _, p := range report.Payloads() {
		if r, ok := p.([][]string); ok {
			rows = append(rows, r...)
		}
	}
	a, err := j.w.WriteCSV(ctx, fmt.Sprintf("interfaces_description_%s.csv", j.stamp()), InterfaceDescHeader, rows)
	if err != nil {
		return nil, err
	}
	return []output.Artifact{a}, nil
}

func init() {
	Register("interfaces-mac", func(cfg *config.Config, w *output.Writer) (Job, error) {
		return &InterfacesMAC{base{cfg, w}}, nil
	})
	Register("interface-desc", func(cfg *config.Config, w *output.Writer) (Job, error) {
		return &InterfaceDesc{base{cfg, w}}, nil
	})
}
