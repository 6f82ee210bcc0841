// internal/protocol/connection.go
package protocol

import "time"

// SerialConfig represents serial link configuration
type SerialConfig struct {
	Port     string        `json:"port"`
	BaudRate int           `json:"baud_rate"`
	DataBits int           `json:"data_bits"`
	StopBits int           `json:"stop_bits"`
	Parity   string        `json:"parity"`
	Timeout  time.Duration `json:"timeout"`
}

// USBConfig represents USB link configuration
type USBConfig struct {
	VendorID  uint16        `json:"vendor_id"`
	ProductID uint16        `json:"product_id"`
	Bus       int           `json:"bus"`
	Address   int           `json:"address"`
	Endpoint  int           `json:"endpoint"`
	Timeout   time.Duration `json:"timeout"`
}

// TCPConfig represents TCP link configuration
type TCPConfig struct {
	Address        string        `json:"address"`
	ConnectTimeout time.Duration `json:"connect_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	KeepAlive      bool          `json:"keep_alive"`
}
