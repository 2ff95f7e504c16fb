package core

// Badge is how a session status is presented.
type Badge struct {
	Label string `json:"label"`
	Class string `json:"class"`
	// Persistent badges describe a job outcome and stay on screen.
	Persistent bool `json:"persistent"`
}

var badgeClasses = map[Status]string{
	StatusPending:        "bg-yellow-100 text-yellow-800",
	StatusSuccess:        "bg-green-100 text-green-800",
	StatusPartialSuccess: "bg-orange-100 text-orange-800",
	StatusError:          "bg-red-100 text-red-800",
	StatusTimedOut:       "bg-gray-100 text-gray-800",
}

// StatusBadge returns the badge for status.
func StatusBadge(status Status) Badge {
	class, ok := badgeClasses[status]
	if !ok {
		class = "bg-slate-100"
	}
	label := string(status)
	if label == "" {
		label = "Unknown"
	}
	return Badge{
		Label:      label,
		Class:      class,
		Persistent: status == StatusError || status == StatusTimedOut,
	}
}
