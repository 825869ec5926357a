package invoicer

// Принятые имена полей документа в порядке приоритета.
// Upstream writers historically used more than one casing per attribute, so
// each logical attribute resolves through an ordered list instead of a single
// key lookup.
var (
	userIDFields      = []string{"uid", "UserID"}
	bookingIDFields   = []string{"BookingID", "bookingID"}
	plateNumberFields = []string{"plateNumber"}
)

const invoiceIDField = "invoiceID"
