package userdir

// User is a user record of the directory API.
type User struct {
	ID         int    `json:"id,omitempty" yaml:"id,omitempty"`
	FirstName  string `json:"firstName,omitempty" yaml:"firstName,omitempty"`
	LastName   string `json:"lastName,omitempty" yaml:"lastName,omitempty"`
	MaidenName string `json:"maidenName,omitempty" yaml:"maidenName,omitempty"`
	Age        int    `json:"age,omitempty" yaml:"age,omitempty"`
	Gender     string `json:"gender,omitempty" yaml:"gender,omitempty"`
	Email      string `json:"email,omitempty" yaml:"email,omitempty"`
	Phone      string `json:"phone,omitempty" yaml:"phone,omitempty"`
	Username   string `json:"username,omitempty" yaml:"username,omitempty"`
	BirthDate  string `json:"birthDate,omitempty" yaml:"birthDate,omitempty"`
	Image      string `json:"image,omitempty" yaml:"image,omitempty"`
	IsDeleted  bool   `json:"isDeleted,omitempty" yaml:"isDeleted,omitempty"`
	DeletedOn  string `json:"deletedOn,omitempty" yaml:"deletedOn,omitempty"`
}

// UsersResponse is a page of users.
type UsersResponse struct {
	Users []User `json:"users" yaml:"users"`
	Total int    `json:"total" yaml:"total"`
	Skip  int    `json:"skip" yaml:"skip"`
	Limit int    `json:"limit" yaml:"limit"`
}
