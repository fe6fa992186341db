package manager

import (
	"OFSniff/internal/endpoint"
)

// StartSniffLoop starts capture and reports whether this call started it. It
// returns false when capture is already running. port is the controller port;
// 0 uses the configured ports.
func (m *Manager) StartSniffLoop(iface string, port int) bool {
	if port < 0 || port > 65535 {
		log.Errorf("Refusing to start: %v", &ConfigurationError{Field: "port", Reason: "out of range", Err: endpoint.ErrInvalidPort})
		return false
	}
	if err := m.Start(iface, uint16(port)); err != nil {
		log.Errorf("Failed to start capture: %v", err)
		return false
	}
	return true
}

// StopSniffLoop stops capture.
func (m *Manager) StopSniffLoop() {
	m.Stop()
}

// IsSniffing reports whether capture is running.
func (m *Manager) IsSniffing() bool {
	return m.IsRunning()
}

// GetEndpoints returns the identifiers of the live endpoints.
func (m *Manager) GetEndpoints() []uint64 {
	eps := m.Endpoints()
	ids := make([]uint64, len(eps))
	for i, ep := range eps {
		ids[i] = ep.ID()
	}
	return ids
}

func (m *Manager) byID(id uint64, get func(endpoint.Endpoint) (float64, error)) (float64, error) {
	ep, err := endpoint.FromUint64(id)
	if err != nil {
		return 0, err
	}
	return get(ep)
}

func (m *Manager) GetEchoRTTAvg(id uint64) (float64, error) { return m.byID(id, m.EchoRTTAvg) }
func (m *Manager) GetEchoRTTVar(id uint64) (float64, error) { return m.byID(id, m.EchoRTTVar) }
func (m *Manager) GetEchoRTTMed(id uint64) (float64, error) { return m.byID(id, m.EchoRTTMed) }

func (m *Manager) GetPktInRTTAvg(id uint64) (float64, error) { return m.byID(id, m.PktInRTTAvg) }
func (m *Manager) GetPktInRTTVar(id uint64) (float64, error) { return m.byID(id, m.PktInRTTVar) }
func (m *Manager) GetPktInRTTMed(id uint64) (float64, error) { return m.byID(id, m.PktInRTTMed) }

func (m *Manager) GetLinkLatAvg(id uint64, port uint32) (float64, error) {
	return m.byID(id, func(ep endpoint.Endpoint) (float64, error) { return m.LinkLatAvg(ep, port) })
}

func (m *Manager) GetLinkLatVar(id uint64, port uint32) (float64, error) {
	return m.byID(id, func(ep endpoint.Endpoint) (float64, error) { return m.LinkLatVar(ep, port) })
}

func (m *Manager) GetLinkLatMed(id uint64, port uint32) (float64, error) {
	return m.byID(id, func(ep endpoint.Endpoint) (float64, error) { return m.LinkLatMed(ep, port) })
}

func (m *Manager) GetDp2CtrlRTT(id uint64) (float64, error) { return m.byID(id, m.Dp2CtrlRTT) }
