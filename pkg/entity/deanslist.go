package entity

// Entity names.
const (
	Incidents      = "Incidents"
	Actions        = "Actions"
	Penalties      = "Penalties"
	Communications = "Communications"
	Behaviors      = "Behaviors"
)

func req(name string) Field { return Field{Name: name, Required: true} }
func opt(name string) Field { return Field{Name: name} }

func fields(required []string, optional ...string) []Field {
	out := make([]Field, 0, len(required)+len(optional))
	for _, n := range required {
		out = append(out, req(n))
	}
	for _, n := range optional {
		out = append(out, opt(n))
	}
	return out
}

// DeansList returns fresh definitions for the five DeansList tables.
func DeansList() []*Definition {
	return []*Definition{
		{
			Name:           Incidents,
			Endpoint:       "incidents",
			APIVersion:     APIVersionV1,
			IdentityColumn: "IncidentID",
			Fields: fields([]string{"IncidentID", "SchoolID", "StudentID"},
				"StudentSchoolID", "StudentFirst", "StudentLast", "GradeLevelShort", "HomeroomName",
				"Category", "CategoryID", "InfractionTypeID", "Infraction", "Location", "LocationID",
				"ReportedDetails", "AdminSummary", "Context", "Status", "StatusID",
				"ReportingIncidentID", "ReportingStaffID", "CreateBy", "CreateFirst", "CreateLast",
				"UpdateBy", "UpdateFirst", "UpdateLast",
				"IssueTS_date", "CreateTS_date", "UpdateTS_date", "CloseTS_date",
				"ReturnDate", "ReturnPeriod", "SendAlert", "IsReferral", "IsActive",
				"FamilyMeetingNotes", "Actions", "Penalties"),
		},
		{
			Name:        Actions,
			Parent:      Incidents,
			NestedField: "Actions",
			LinkColumn:  "SourceID",
			Fields:      fields([]string{"SourceID", "ActionID"}, "SAID", "ActionName", "PointValue"),
		},
		{
			Name:        Penalties,
			Parent:      Incidents,
			NestedField: "Penalties",
			LinkColumn:  "IncidentID",
			Fields: fields([]string{"IncidentID", "IncidentPenaltyID"},
				"SchoolID", "StudentID", "PenaltyID", "PenaltyName", "StartDate", "EndDate",
				"NumDays", "NumPeriods", "IsSuspension", "IsReportable", "SAID", "Print"),
		},
		{
			Name:       Communications,
			Endpoint:   "get-comm-data",
			APIVersion: APIVersionBeta,
			Fields: fields([]string{"RecordID", "StudentID"},
				"RecordType", "CallDateTime", "CallTopic", "CallType", "CallStatus", "CallStatusID",
				"Reason", "ReasonID", "Response", "PersonContacted", "Relationship", "Email",
				"PhoneNumber", "MailingAddress", "ThirdParty", "IsDraft", "EducatorName",
				"UserID", "UserFirstName", "UserLastName", "StudentSchoolID",
				"StudentFirstName", "StudentLastName", "Followups"),
		},
		{
			Name:         Behaviors,
			Endpoint:     "get-behavior-data",
			APIVersion:   APIVersionBeta,
			Windowed:     true,
			WindowColumn: "BehaviorDate",
			Fields: fields([]string{"DLSAID", "BehaviorDate"},
				"BehaviorID", "Behavior", "BehaviorCategory", "PointValue", "Weight", "Notes",
				"DLOrganizationID", "DLSchoolID", "SchoolName", "DLStudentID", "StudentSchoolID",
				"SecondaryStudentID", "StudentFirstName", "StudentMiddleName", "StudentLastName",
				"DLUserID", "StaffSchoolID", "StaffTitle", "StaffFirstName", "StaffMiddleName",
				"StaffLastName", "Roster", "RosterID", "SourceType", "SourceID", "SourceProcedure",
				"Assignment"),
		},
	}
}

// DefaultCatalog builds the catalog of the five DeansList tables.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DeansList()...)
	if err != nil {
		// The built-in definitions are static; failing here is a programming error.
		panic(err)
	}
	return c
}
