package model

// Repository is a source repository inside a project. ID is the stable remote
// identifier (a GUID on Azure DevOps, "owner/name" on GitHub).
type Repository struct {
	ID           string
	Name         string
	Organization string
	Project      string
}

// User is a person referenced by pull requests, reviews or comments.
type User struct {
	ID          string
	DisplayName string
	Email       string
}
