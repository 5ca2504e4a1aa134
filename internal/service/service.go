package service

// Service represents a provisioned service in the platform directory.
// Node and VMID carry the coordinates of the VM backing the service; they are empty as long as the
// service has not been placed on a hypervisor yet.
type Service struct {
	ID     string
	UserID string
	Node   string
	VMID   string
}

// IsPlaced returns whether the service has been placed on a hypervisor
func (service *Service) IsPlaced() bool {
	return service.Node != "" && service.VMID != ""
}
