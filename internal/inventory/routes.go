package inventory

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strings"
)

// SiteSubnet 站点网段
type SiteSubnet struct {
	Site   string
	Prefix netip.Prefix
}

// RouteMatch 比对结果
type RouteMatch struct {
	Site   string `json:"site"`
	Route  string `json:"route"`
	Result string `json:"result"`
}

// Record CSV 行：SiteName, Router_Route, Result
func (m RouteMatch) Record() []string {
	return []string{m.Site, m.Route, m.Result}
}

// RouteMatchHeader 比对结果表头
var RouteMatchHeader = []string{"SiteName", "Router_Route", "Result"}

// LoadSiteSubnets 读取站点网段文件
func LoadSiteSubnets(path string) ([]SiteSubnet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open site subnets: %w", err)
	}
	defer f.Close()
	return ParseSiteSubnets(f)
}

// ParseSiteSubnets 制表符分隔：首行为表头，之后每行 site<TAB>subnet<TAB>subnet...
// 无法解析的网段忽略
func ParseSiteSubnets(r io.Reader) ([]SiteSubnet, error) {
	var out []SiteSubnet
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	header := true
	for sc.Scan() {
		if header {
			header = false
			continue
		}
		cols := strings.Split(strings.TrimRight(sc.Text(), "\r"), "\t")
		site := strings.TrimSpace(cols[0])
		for _, c := range cols[1:] {
			if p, ok := parseNetwork(c); ok {
				out = append(out, SiteSubnet{Site: site, Prefix: p})
			}
		}
	}
	return out, sc.Err()
}

// CompareRoutes 路由与站点网段比对：完全相同为 Perfect match，被包含为 Subnet of X，
// 其余（以及非 IP 路由）不输出；同一网段出现在多个站点或被多个网段包含时均取最后一个
func CompareRoutes(routes []string, subnets []SiteSubnet) []RouteMatch {
	var out []RouteMatch
	for _, r := range routes {
		net, ok := parseNetwork(r)
		if !ok {
			continue
		}
		var exact, parent *SiteSubnet
		for i := range subnets {
			s := &subnets[i]
			if s.Prefix == net {
				exact = s
				continue
			}
			if subnetOf(net, s.Prefix) {
				parent = s
			}
		}
		switch {
		case exact != nil:
			out = append(out, RouteMatch{Site: exact.Site, Route: net.String(), Result: "Perfect match"})
		case parent != nil:
			out = append(out, RouteMatch{Site: parent.Site, Route: net.String(), Result: "Subnet of " + parent.Prefix.String()})
		}
	}
	return out
}

// parseNetwork 非严格解析：主机位清零，裸地址视为主机路由
func parseNetwork(s string) (netip.Prefix, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return netip.Prefix{}, false
	}
	if !strings.Contains(s, "/") {
		a, err := netip.ParseAddr(s)
		if err != nil {
			return netip.Prefix{}, false
		}
		return netip.PrefixFrom(a, a.BitLen()), true
	}
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return netip.Prefix{}, false
	}
	return p.Masked(), true
}

func subnetOf(child, parent netip.Prefix) bool {
	if child.Addr().Is4() != parent.Addr().Is4() {
		return false
	}
	return parent.Bits() <= child.Bits() && parent.Contains(child.Addr())
}

// ErrNoRouteColumn 路由文件缺少 Route 列
var ErrNoRouteColumn = errors.New("no Route column found")

// LoadRoutesCSV 读取 routes.csv 的 Route 列
func LoadRoutesCSV(path string) ([]string, error) {
	header, rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	idx := -1
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), "route") {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoRouteColumn)
	}
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		if v := strings.TrimSpace(field(row, idx)); v != "" {
			out = append(out, v)
		}
	}
	return out, nil
}
