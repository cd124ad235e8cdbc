package model

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

// Principal is the authenticated actor. DoctorID is set for doctors and PatientID for patients.
type Principal struct {
	UserID    string
	Role      Role
	DoctorID  string
	PatientID string
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

func (p Principal) IsDoctor(doctorID string) bool {
	return p.Role == RoleDoctor && p.DoctorID != "" && p.DoctorID == doctorID
}

func (p Principal) IsPatient(patientID string) bool {
	return p.Role == RolePatient && p.PatientID != "" && p.PatientID == patientID
}

// Owns reports whether p may reschedule or cancel a.
func (p Principal) Owns(a Appointment) bool {
	return p.IsAdmin() || p.IsDoctor(a.DoctorID) || p.IsPatient(a.PatientID)
}

// CanViewCalendar reports whether p may read agendas and statistics of doctorID.
func (p Principal) CanViewCalendar(doctorID string) bool {
	return p.IsAdmin() || p.IsDoctor(doctorID)
}
