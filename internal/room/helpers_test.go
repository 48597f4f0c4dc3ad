package room_test

import "alixia/internal/dialog"

func dialogRequest() dialog.Request {
	return dialog.Request{ClientID: "client-1", Message: "hello"}
}
