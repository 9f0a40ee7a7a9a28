package ofp

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"
	"unicode"
)

// ParseFlow parses a flow in the ovs-ofctl add-flow syntax, for
// example
//
//	table=0,priority=100,in_port=1,dl_type=0x0800,actions=output:2
//
// and returns it as an ADD flow mod. The match may be separated by
// commas or white space; everything after "actions=" is a comma
// separated action list.
func ParseFlow(s string) (*FlowMod, error) {
	fm := NewFlowMod(FlowAdd)
	fm.Text = s

	matchPart, actionPart, ok := strings.Cut(s, "actions=")
	if !ok {
		return nil, fmt.Errorf("flow %q: missing actions", s)
	}

	p := flowParser{fm: fm}
	tokens := strings.FieldsFunc(matchPart, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	for _, tok := range tokens {
		key, value, hasValue := strings.Cut(tok, "=")
		if err := p.field(key, value, hasValue); err != nil {
			return nil, fmt.Errorf("flow %q: %w", s, err)
		}
	}
	if err := p.transportPorts(); err != nil {
		return nil, fmt.Errorf("flow %q: %w", s, err)
	}
	if err := p.actions(strings.TrimSpace(actionPart)); err != nil {
		return nil, fmt.Errorf("flow %q: %w", s, err)
	}
	return fm, nil
}

type flowParser struct {
	fm *FlowMod
	// tp_src and tp_dst resolve to TCP or UDP once ip_proto is known.
	tpSrc, tpDst string
}

var shorthands = map[string]struct {
	ethType uint16
	proto   uint8
}{
	"ip":    {0x0800, 0},
	"ipv6":  {0x86dd, 0},
	"arp":   {0x0806, 0},
	"tcp":   {0x0800, 6},
	"udp":   {0x0800, 17},
	"icmp":  {0x0800, 1},
	"tcp6":  {0x86dd, 6},
	"udp6":  {0x86dd, 17},
	"icmp6": {0x86dd, 58},
}

var fieldAliases = map[string]OXMField{
	"in_port":  FieldInPort,
	"metadata": FieldMetadata,
	"dl_src":   FieldEthSrc,
	"eth_src":  FieldEthSrc,
	"dl_dst":   FieldEthDst,
	"eth_dst":  FieldEthDst,
	"dl_type":  FieldEthType,
	"eth_type": FieldEthType,
	"dl_vlan":  FieldVLANVID,
	"vlan_vid": FieldVLANVID,
	"nw_proto": FieldIPProto,
	"ip_proto": FieldIPProto,
	"nw_src":   FieldIPv4Src,
	"ip_src":   FieldIPv4Src,
	"ipv4_src": FieldIPv4Src,
	"nw_dst":   FieldIPv4Dst,
	"ip_dst":   FieldIPv4Dst,
	"ipv4_dst": FieldIPv4Dst,
	"ipv6_src": FieldIPv6Src,
	"ipv6_dst": FieldIPv6Dst,
	"tcp_src":  FieldTCPSrc,
	"tcp_dst":  FieldTCPDst,
	"udp_src":  FieldUDPSrc,
	"udp_dst":  FieldUDPDst,
}

func (p *flowParser) field(key, value string, hasValue bool) error {
	if !hasValue {
		sh, ok := shorthands[key]
		if !ok {
			return fmt.Errorf("unknown keyword %q", key)
		}
		if err := p.add(OXM{Field: FieldEthType, Value: be16(sh.ethType)}); err != nil {
			return err
		}
		if sh.proto != 0 {
			return p.add(OXM{Field: FieldIPProto, Value: []byte{sh.proto}})
		}
		return nil
	}

	var err error
	switch key {
	case "table":
		p.fm.TableID, err = parseUint8(value)
	case "priority":
		p.fm.Priority, err = parseUint16(value)
	case "idle_timeout":
		p.fm.IdleTimeout, err = parseUint16(value)
	case "hard_timeout":
		p.fm.HardTimeout, err = parseUint16(value)
	case "importance":
		p.fm.Importance, err = parseUint16(value)
	case "cookie":
		v, m, found := strings.Cut(value, "/")
		if p.fm.Cookie, err = strconv.ParseUint(v, 0, 64); err == nil && found {
			p.fm.CookieMask, err = strconv.ParseUint(m, 0, 64)
		}
	case "tp_src":
		p.tpSrc = value
	case "tp_dst":
		p.tpDst = value
	default:
		f, ok := fieldAliases[key]
		if !ok {
			return fmt.Errorf("unknown field %q", key)
		}
		var o OXM
		if o, err = parseOXM(f, value); err == nil {
			err = p.add(o)
		}
	}
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

func (p *flowParser) add(o OXM) error {
	for i, prev := range p.fm.Match {
		if prev.Field != o.Field {
			continue
		}
		if string(prev.Value) != string(o.Value) || string(prev.Mask) != string(o.Mask) {
			return fmt.Errorf("conflicting values for %s", o.Field)
		}
		p.fm.Match[i] = o
		return nil
	}
	p.fm.Match = append(p.fm.Match, o)
	return nil
}

func (p *flowParser) transportPorts() error {
	if p.tpSrc == "" && p.tpDst == "" {
		return nil
	}
	proto, ok := p.fm.Match.Get(FieldIPProto)
	if !ok {
		return fmt.Errorf("tp_src/tp_dst require nw_proto")
	}
	src, dst := FieldTCPSrc, FieldTCPDst
	switch proto[0] {
	case 6:
	case 17:
		src, dst = FieldUDPSrc, FieldUDPDst
	default:
		return fmt.Errorf("tp_src/tp_dst not supported for ip_proto %d", proto[0])
	}
	for _, tp := range []struct {
		f OXMField
		v string
	}{{src, p.tpSrc}, {dst, p.tpDst}} {
		if tp.v == "" {
			continue
		}
		o, err := parseOXM(tp.f, tp.v)
		if err != nil {
			return fmt.Errorf("%s: %w", tp.f, err)
		}
		if err := p.add(o); err != nil {
			return err
		}
	}
	return nil
}

func (p *flowParser) actions(s string) error {
	if s == "" {
		return fmt.Errorf("empty action list")
	}
	var (
		actions []Action
		gotoTbl *GotoTable
	)
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		name, arg, _ := strings.Cut(tok, ":")
		switch name {
		case "drop":
		case "output":
			port, err := parseUint32(arg)
			if err != nil {
				return fmt.Errorf("output: %w", err)
			}
			actions = append(actions, Output{Port: port})
		case "in_port":
			actions = append(actions, Output{Port: PortInPort})
		case "local", "LOCAL":
			actions = append(actions, Output{Port: PortLocal})
		case "normal", "NORMAL":
			actions = append(actions, Output{Port: PortNormal})
		case "flood", "FLOOD":
			actions = append(actions, Output{Port: PortFlood})
		case "all", "ALL":
			actions = append(actions, Output{Port: PortAll})
		case "controller", "CONTROLLER":
			actions = append(actions, Output{Port: PortController, MaxLen: ControllerMaxLen})
		case "group":
			id, err := parseUint32(arg)
			if err != nil {
				return fmt.Errorf("group: %w", err)
			}
			actions = append(actions, Group{ID: id})
		case "push_vlan":
			et, err := parseUint16(arg)
			if err != nil {
				return fmt.Errorf("push_vlan: %w", err)
			}
			actions = append(actions, PushVLAN{EtherType: et})
		case "strip_vlan", "pop_vlan":
			actions = append(actions, PopVLAN{})
		case "mod_vlan_vid":
			vid, err := parseUint16(arg)
			if err != nil || vid > 0xfff {
				return fmt.Errorf("mod_vlan_vid: invalid vid %q", arg)
			}
			actions = append(actions, SetField{Field: OXM{Field: FieldVLANVID, Value: be16(vid | vlanPresent)}})
		case "set_field":
			value, field, ok := strings.Cut(arg, "->")
			if !ok {
				return fmt.Errorf("set_field: expected VALUE->FIELD, got %q", arg)
			}
			f, ok := fieldAliases[field]
			if !ok {
				return fmt.Errorf("set_field: unknown field %q", field)
			}
			o, err := parseOXM(f, value)
			if err != nil {
				return fmt.Errorf("set_field: %w", err)
			}
			if o.Mask != nil {
				return fmt.Errorf("set_field: %s cannot be masked", field)
			}
			actions = append(actions, SetField{Field: o})
		case "dec_ttl":
			actions = append(actions, DecNwTTL{})
		case "goto_table":
			id, err := parseUint8(arg)
			if err != nil {
				return fmt.Errorf("goto_table: %w", err)
			}
			gotoTbl = &GotoTable{TableID: id}
		default:
			port, err := parseUint32(tok)
			if err != nil {
				return fmt.Errorf("unknown action %q", tok)
			}
			actions = append(actions, Output{Port: port})
		}
	}
	if len(actions) > 0 {
		p.fm.Instructions = append(p.fm.Instructions, ApplyActions{Actions: actions})
	}
	if gotoTbl != nil {
		p.fm.Instructions = append(p.fm.Instructions, *gotoTbl)
	}
	return nil
}

func parseOXM(f OXMField, s string) (OXM, error) {
	switch f {
	case FieldEthSrc, FieldEthDst:
		v, m, masked := strings.Cut(s, "/")
		mac, err := net.ParseMAC(v)
		if err != nil || len(mac) != 6 {
			return OXM{}, fmt.Errorf("invalid mac %q", v)
		}
		o := OXM{Field: f, Value: mac}
		if masked {
			mask, err := net.ParseMAC(m)
			if err != nil || len(mask) != 6 {
				return OXM{}, fmt.Errorf("invalid mac mask %q", m)
			}
			o.Mask = mask
		}
		return o, nil
	case FieldIPv4Src, FieldIPv4Dst, FieldIPv6Src, FieldIPv6Dst:
		return parseIPOXM(f, s)
	case FieldVLANVID:
		v, err := parseUint16(s)
		if err != nil || v > 0xfff {
			return OXM{}, fmt.Errorf("invalid vlan %q", s)
		}
		return OXM{Field: f, Value: be16(v | vlanPresent)}, nil
	}

	size := f.Size()
	v, m, masked := strings.Cut(s, "/")
	value, err := strconv.ParseUint(v, 0, size*8)
	if err != nil {
		return OXM{}, err
	}
	o := OXM{Field: f, Value: beN(value, size)}
	if masked {
		mask, err := strconv.ParseUint(m, 0, size*8)
		if err != nil {
			return OXM{}, err
		}
		o.Mask = beN(mask, size)
	}
	return o, nil
}

func parseIPOXM(f OXMField, s string) (OXM, error) {
	size := f.Size()
	addr, rest, masked := strings.Cut(s, "/")
	ip := net.ParseIP(addr)
	if ip == nil {
		return OXM{}, fmt.Errorf("invalid address %q", addr)
	}
	if size == 4 {
		ip = ip.To4()
		if ip == nil {
			return OXM{}, fmt.Errorf("%q is not an IPv4 address", addr)
		}
	} else {
		ip = ip.To16()
	}
	o := OXM{Field: f, Value: []byte(ip)}
	if !masked {
		return o, nil
	}
	if plen, err := strconv.Atoi(rest); err == nil {
		if plen < 0 || plen > size*8 {
			return OXM{}, fmt.Errorf("invalid prefix length %d", plen)
		}
		if plen == size*8 {
			return o, nil
		}
		o.Mask = []byte(net.CIDRMask(plen, size*8))
	} else {
		mask := net.ParseIP(rest)
		if mask == nil {
			return OXM{}, fmt.Errorf("invalid mask %q", rest)
		}
		if size == 4 {
			mask = mask.To4()
		}
		o.Mask = []byte(mask)
	}
	for i := range o.Value {
		o.Value[i] &= o.Mask[i]
	}
	return o, nil
}

func parseUint8(s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	return uint8(v), err
}

func parseUint16(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	return uint16(v), err
}

func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	return uint32(v), err
}

func be16(v uint16) []byte {
	return binary.BigEndian.AppendUint16(nil, v)
}

func beN(v uint64, n int) []byte {
	b := binary.BigEndian.AppendUint64(nil, v)
	return b[8-n:]
}
