package job

import (
	"context"
	"time"

	"github.com/sshcollectorpro/netops/internal/batch"
	"github.com/sshcollectorpro/netops/internal/config"
	"github.com/sshcollectorpro/netops/internal/output"
	"github.com/sshcollectorpro/netops/internal/parser"
	"github.com/sshcollectorpro/netops/internal/util"
)

// WLCResult 无线控制器 HA 校验结果
type WLCResult struct {
	IP              string `json:"ip"`
	Model           string `json:"model"`
	SerialNumber    string `json:"serial_number"`
	HASummary       string `json:"ha_summary"`
	WirelessState   string `json:"wireless_state"`
	MobilitySummary string `json:"mobility_summary"`
	MobilityAnchor  string `json:"mobility_anchor"`
	Timestamp       string `json:"timestamp"`
	Error           string `json:"error"`
}

// WLCHeader CSV 表头
var WLCHeader = []string{"ip", "model", "serial_number", "ha_summary", "wireless_state", "mobility_summary", "mobility_anchor", "timestamp", "error"}

// Record CSV 行
func (r WLCResult) Record() []string {
	return []string{r.IP, r.Model, r.SerialNumber, r.HASummary, r.WirelessState, r.MobilitySummary, r.MobilityAnchor, r.Timestamp, r.Error}
}

// WLCHA 无线控制器 HA 与漫游状态采集
type WLCHA struct {
	base
	commands []string
}

func (WLCHA) Name() string { return "wlc-ha" }

func (j *WLCHA) Run(ctx context.Context, dev *batch.Device) (batch.Payload, error) {
	r := &WLCResult{IP: dev.Target.Address, Timestamp: timestamp(time.Now())}
	dev.Run(ctx, "ter len 0")
	ver := dev.Run(ctx, "show version")
	r.Model, r.SerialNumber = parser.ParseWLCVersion(ver.RawOutput)

	fields := []*string{&r.HASummary, &r.WirelessState, &r.MobilitySummary, &r.MobilityAnchor}
	for i, cmd := range j.commands {
		if i >= len(fields) {
			break
		}
		res := dev.Run(ctx, cmd)
		if res.Degraded() {
			dev.Log().Warnf("Prompt not detected for %q", cmd)
		}
		*fields[i] = parser.StripEcho(util.CleanTerminal(res.RawOutput), cmd)
	}
	return r, nil
}

func (j *WLCHA) Finish(ctx context.Context, report *batch.Report) ([]output.Artifact, error) {
	results := make([]WLCResult, 0, len(report.Outcomes))
	rows := make([][]string, 0, len(report.Outcomes))
	for _, o := range report.Outcomes {
		r, ok := o.Payload.(*WLCResult)
		if !ok {
			r = &WLCResult{IP: o.Target.Address, Model: "Unknown", SerialNumber: "Unknown", Timestamp: timestamp(o.Started)}
		}
		if o.Err != nil {
			r.Error = o.Error()
		}
		results = append(results, *r)
		rows = append(rows, r.Record())
	}

	csvArt, err := j.w.WriteCSV(ctx, "wlc_ha_results.csv", WLCHeader, rows)
	if err != nil {
		return nil, err
	}
	jsonArt, err := j.w.WriteJSON(ctx, "wlc_ha_results.json", results)
	if err != nil {
		return []output.Artifact{csvArt}, err
	}
	return []output.Artifact{csvArt, jsonArt}, nil
}

func init() {
	Register("wlc-ha", func(cfg *config.Config, w *output.Writer) (Job, error) {
		return &WLCHA{base: base{cfg, w}, commands: cfg.Jobs.WLC.Commands}, nil
	})
}
