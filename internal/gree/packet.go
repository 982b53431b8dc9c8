package gree

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Packet types on the wire
const (
	TypeScan   = "scan"
	TypePack   = "pack"
	TypeDev    = "dev"
	TypeBind   = "bind"
	TypeBindOK = "bindok"
	TypeStatus = "status"
	TypeDat    = "dat"
	TypeCmd    = "cmd"
	TypeRes    = "res"
)

// appCID is the client id the mobile app uses; devices expect it in requests.
const appCID = "app"

// DefaultStatusColumns are the properties polled by the bridge.
var DefaultStatusColumns = []string{
	"Pow", "Mod", "SetTem", "TemUn", "TemSen", "WdSpd", "Air", "Blo",
	"Health", "SwhSlp", "Lig", "SwingLfRig", "SwUpDn", "Quiet", "Tur",
	"StHt", "HeatCoolType", "TemRec", "SvSt",
}

// Packet is the outer JSON envelope of every UDP datagram.
type Packet struct {
	T    string `json:"t"`
	I    int    `json:"i"`
	UID  int    `json:"uid"`
	CID  string `json:"cid"`
	TCID string `json:"tcid"`
	Pack string `json:"pack,omitempty"`
	Tag  string `json:"tag,omitempty"`
}

// ScanInfo is the decrypted payload of a scan reply.
type ScanInfo struct {
	T     string `json:"t"`
	CID   string `json:"cid"`
	MAC   string `json:"mac"`
	Name  string `json:"name"`
	Brand string `json:"brand"`
	Model string `json:"model"`
	Ver   string `json:"ver"`
}

// id returns the device identifier, preferring the MAC.
func (s ScanInfo) id() string {
	if s.MAC != "" {
		return s.MAC
	}
	return s.CID
}

type bindRequest struct {
	MAC string `json:"mac"`
	T   string `json:"t"`
	UID int    `json:"uid"`
}

type bindResponse struct {
	T   string `json:"t"`
	MAC string `json:"mac"`
	Key string `json:"key"`
}

type statusRequest struct {
	Cols []string `json:"cols"`
	MAC  string   `json:"mac"`
	T    string   `json:"t"`
}

type statusResponse struct {
	T    string        `json:"t"`
	MAC  string        `json:"mac"`
	Cols []string      `json:"cols"`
	Dat  []interface{} `json:"dat"`
}

type cmdRequest struct {
	Opt []string      `json:"opt"`
	P   []interface{} `json:"p"`
	T   string        `json:"t"`
}

type cmdResponse struct {
	T   string        `json:"t"`
	MAC string        `json:"mac"`
	R   int           `json:"r"`
	Opt []string      `json:"opt"`
	P   []interface{} `json:"p"`
	Val []interface{} `json:"val"`
}

// header returns the envelope for a request addressed to mac.
func header(mac string, i int) Packet {
	return Packet{T: TypePack, I: i, UID: 0, CID: appCID, TCID: mac}
}

// seal encrypts body into p with key, using GCM when gcm is set.
func seal(p *Packet, key string, gcm bool, body interface{}) error {
	plain, err := json.Marshal(body)
	if err != nil {
		return NewProtocolError("failed to encode request", err)
	}
	if gcm {
		p.Pack, p.Tag, err = encryptGCM(key, plain)
		return err
	}
	p.Pack, err = encryptECB(key, plain)
	return err
}

// open decrypts the pack of p into v. A tag on the packet means GCM.
func open(p Packet, key string, v interface{}) error {
	if p.Pack == "" {
		return NewProtocolError(fmt.Sprintf("packet %q has no pack", p.T), nil)
	}

	var (
		plain []byte
		err   error
	)
	if p.Tag != "" {
		plain, err = decryptGCM(key, p.Pack, p.Tag)
	} else {
		plain, err = decryptECB(key, p.Pack)
	}
	if err != nil {
		return err
	}

	if err := json.Unmarshal(plain, v); err != nil {
		return NewProtocolError("decrypted pack is not valid JSON", err)
	}
	return nil
}

// splitParams turns a parameter map into the parallel opt/p arrays, sorted by
// name so requests are deterministic.
func splitParams(params map[string]interface{}) ([]string, []interface{}) {
	opt := make([]string, 0, len(params))
	for k := range params {
		opt = append(opt, k)
	}
	sort.Strings(opt)

	p := make([]interface{}, len(opt))
	for i, k := range opt {
		p[i] = params[k]
	}
	return opt, p
}

// zipStatus pairs status columns with their values.
func zipStatus(cols []string, dat []interface{}) (map[string]interface{}, error) {
	if len(cols) != len(dat) {
		return nil, NewProtocolError(fmt.Sprintf("status has %d columns but %d values", len(cols), len(dat)), nil)
	}
	out := make(map[string]interface{}, len(cols))
	for i, c := range cols {
		out[c] = dat[i]
	}
	return out, nil
}
