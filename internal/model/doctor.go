package model

// Doctor extends a doctor Profile; ID equals the profile id.
type Doctor struct {
	Base
	Specialization string  `json:"specialization" db:"specialization"`
	LicenseNumber  *string `json:"license_number,omitempty" db:"license_number"`
}
