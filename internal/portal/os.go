package portal

import (
	"context"
	"net/http"
)

// Paths of the OS discovery endpoints.
const (
	OSInfoPath       = "api/os/info"
	DeviceFamilyPath = "api/os/devicefamily"
	MachineNamePath  = "api/os/machinename"
)

// OSInfo is the body of api/os/info.
type OSInfo struct {
	ComputerName string `json:"ComputerName" yaml:"computer_name"`
	Language     string `json:"Language" yaml:"language"`
	OsEdition    string `json:"OsEdition" yaml:"os_edition"`
	OsEditionID  int    `json:"OsEditionId" yaml:"os_edition_id"`
	OsVersion    string `json:"OsVersion" yaml:"os_version"`
	Platform     string `json:"Platform" yaml:"platform"`
}

type deviceFamilyResponse struct {
	DeviceType string `json:"DeviceType"`
}

// OSInfo fetches the device's operating system information.
func (s *Session) OSInfo(ctx context.Context) (*OSInfo, error) {
	var info OSInfo
	if err := s.Get(ctx, OSInfoPath, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// DeviceFamily fetches the device family, e.g. "Windows.Holographic".
func (s *Session) DeviceFamily(ctx context.Context) (string, error) {
	var resp deviceFamilyResponse
	if err := s.Request(ctx, http.MethodGet, DeviceFamilyPath, nil, nil, &resp); err != nil {
		return "", err
	}
	return resp.DeviceType, nil
}
