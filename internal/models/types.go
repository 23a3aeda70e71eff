package models

// Reading maps a field name to its value for a single channel of one crawl.
type Reading map[string]float64

// InverterList represents the response of /api/inverter/list
type InverterList struct {
	Inverter        []Inverter `json:"inverter"`
	Interval        string     `json:"interval"`
	Retries         string     `json:"retries"`
	MaxNumInverters uint8      `json:"max_num_inverters"`
	RstMid          bool       `json:"rstMid"`
	RstNAvail       bool       `json:"rstNAvail"`
	RstComStop      bool       `json:"rstComStop"`
	StrtWthtTm      bool       `json:"strtWthtTm"`
	YldEff          float64    `json:"yldEff"`
}

// Inverter is one roster entry of the device.
type Inverter struct {
	Enabled    bool      `json:"enabled"`
	ID         uint8     `json:"id"`
	Name       string    `json:"name"`
	Serial     string    `json:"serial"`
	Channels   uint8     `json:"channels"`
	Version    string    `json:"version"`
	ChYieldCor []float64 `json:"ch_yield_cor"`
	ChName     []string  `json:"ch_name"`
	ChMaxPwr   []*uint16 `json:"ch_max_pwr"`
}

// InverterStatus represents the response of /api/inverter/id/{id}.
// Ch holds one value row per channel, channel 0 being the AC summary.
type InverterStatus struct {
	ID             uint8       `json:"id"`
	Enabled        bool        `json:"enabled"`
	Name           string      `json:"name"`
	Serial         string      `json:"serial"`
	Version        string      `json:"version"`
	PowerLimitRead uint16      `json:"power_limit_read"`
	PowerLimitAck  bool        `json:"power_limit_ack"`
	TsLastSuccess  uint64      `json:"ts_last_success"`
	Generation     uint32      `json:"generation"`
	Status         uint8       `json:"status"`
	AlarmCnt       uint8       `json:"alarm_cnt"`
	Ch             [][]float64 `json:"ch"`
	ChName         []string    `json:"ch_name"`
	ChMaxPwr       []*uint16   `json:"ch_max_pwr"`
}

// Live represents the response of /api/live. It carries the field catalogs
// shared by every inverter on the device.
type Live struct {
	Generic     Generic  `json:"generic"`
	Refresh     uint16   `json:"refresh"`
	Ch0FldUnits []string `json:"ch0_fld_units"`
	Ch0FldNames []string `json:"ch0_fld_names"`
	FldUnits    []string `json:"fld_units"`
	FldNames    []string `json:"fld_names"`
	Iv          []bool   `json:"iv"`
}

type Generic struct {
	WifiRssi   int16  `json:"wifi_rssi"`
	TsUptime   uint64 `json:"ts_uptime"`
	TsNow      uint64 `json:"ts_now"`
	Version    string `json:"version"`
	Build      string `json:"build"`
	MenuProt   bool   `json:"menu_prot"`
	MenuMask   uint16 `json:"menu_mask"`
	MenuProtEn bool   `json:"menu_protEn"`
	EspType    string `json:"esp_type"`
}

// Index represents the response of /api/index
type Index struct {
	Generic      Generic         `json:"generic"`
	TsNow        uint64          `json:"ts_now"`
	TsSunrise    uint64          `json:"ts_sunrise"`
	TsSunset     uint64          `json:"ts_sunset"`
	TsOffset     int64           `json:"ts_offset"`
	DisNightComm bool            `json:"disNightComm"`
	Inverter     []InverterIndex `json:"inverter"`
	Warnings     []string        `json:"warnings"`
	Infos        []string        `json:"infos"`
}

type InverterIndex struct {
	Enabled       bool   `json:"enabled"`
	ID            uint8  `json:"id"`
	Name          string `json:"name"`
	Version       string `json:"version"`
	IsAvail       bool   `json:"is_avail"`
	IsProducing   bool   `json:"is_producing"`
	TsLastSuccess uint64 `json:"ts_last_success"`
}
