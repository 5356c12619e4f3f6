package strava

import "time"

// Activity is a summary activity as returned by the Strava API.
// Description is the only field this system mutates remotely.
type Activity struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	Type               string    `json:"type"`
	StartDate          time.Time `json:"start_date"`
	Distance           float64   `json:"distance,omitempty"`             // meters
	MovingTime         int       `json:"moving_time,omitempty"`          // seconds
	ElapsedTime        int       `json:"elapsed_time,omitempty"`         // seconds
	TotalElevationGain float64   `json:"total_elevation_gain,omitempty"` // meters
	AverageSpeed       float64   `json:"average_speed,omitempty"`        // m/s
	AverageHeartrate   float64   `json:"average_heartrate,omitempty"`
	MaxHeartrate       float64   `json:"max_heartrate,omitempty"`
	Description        string    `json:"description,omitempty"`
}

// tokenResponse is the response from the Strava OAuth token endpoint.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
}
