package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/clinic/billdesk/internal/domain/billing"
	"github.com/clinic/billdesk/pkg/pagination"
)

func billsCmd(load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bills",
		Short: "List and work on bills",
	}

	// bills list
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List bills",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")

			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			rows, err := a.svc.ListBills(cmd.Context())
			if err != nil {
				return err
			}
			page := pagination.Window(rows, pagination.Params{Limit: limit, Offset: offset})
			printBillList(cmd.OutOrStdout(), page, len(rows))
			return nil
		},
	}
	listCmd.Flags().Int("limit", pagination.DefaultLimit, "Maximum number of bills to show")
	listCmd.Flags().Int("offset", 0, "Number of bills to skip")
	cmd.AddCommand(listCmd)

	// bills show
	cmd.AddCommand(&cobra.Command{
		Use:   "show <billID>",
		Short: "Show a bill with its payments and refunds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			v, err := a.svc.GetBill(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printBill(cmd.OutOrStdout(), v)
			return nil
		},
	})

	// bills pay
	payCmd := &cobra.Command{
		Use:   "pay <billID>",
		Short: "Record a payment against the pending balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := billing.PaymentRequest{
				Amount:        billing.NewAmount(billing.ParseAmount(flagString(cmd, "amount"))),
				Date:          flagString(cmd, "date"),
				TenderRequest: tenderFromFlags(cmd),
			}
			if err := req.Validate(); err != nil {
				return err
			}

			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			v, p, err := a.svc.RecordPayment(cmd.Context(), args[0], req.Payment())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Payment of %s recorded, receipt %s (payment %s)\n",
				billing.Rupees(p.Amount), orDash(p.ReceiptNo), orDash(p.ID))
			printTotals(cmd.OutOrStdout(), v)
			return nil
		},
	}
	tenderFlags(payCmd)
	cmd.AddCommand(payCmd)

	// bills refund
	refundCmd := &cobra.Command{
		Use:   "refund <billID>",
		Short: "Issue a refund of money already received",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := billing.RefundRequest{
				Amount:        billing.NewAmount(billing.ParseAmount(flagString(cmd, "amount"))),
				Date:          flagString(cmd, "date"),
				TenderRequest: tenderFromFlags(cmd),
			}
			if err := req.Validate(); err != nil {
				return err
			}

			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			v, r, err := a.svc.IssueRefund(cmd.Context(), args[0], req.Refund())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Refund of %s issued, refund no. %s\n",
				billing.Rupees(r.Amount), orDash(r.RefundNo))
			printTotals(cmd.OutOrStdout(), v)
			return nil
		},
	}
	tenderFlags(refundCmd)
	cmd.AddCommand(refundCmd)

	// bills complete
	cmd.AddCommand(&cobra.Command{
		Use:   "complete <billID>",
		Short: "Mark the treatment of a bill as completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			if _, err := a.svc.MarkCompleted(cmd.Context(), args[0]); err != nil {
				return err
			}
			// Read back what the billing API actually stored.
			v, err := a.svc.GetBill(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Bill %s: %s\n", v.Bill.Number(), v.Status)
			return nil
		},
	})

	// bills delete
	deleteCmd := &cobra.Command{
		Use:   "delete <billID>",
		Short: "Delete a bill with its payments and refunds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if yes, _ := cmd.Flags().GetBool("yes"); !yes {
				return errors.New("deleting a bill also deletes its payments and refunds; pass --yes to confirm")
			}
			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.svc.DeleteBill(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Bill %s deleted\n", billing.PadBillNumber(args[0]))
			return nil
		},
	}
	deleteCmd.Flags().Bool("yes", false, "Confirm the deletion")
	cmd.AddCommand(deleteCmd)

	return cmd
}

func receiptCmd(load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receipt <paymentID>",
		Short: "Render the printable receipt of a payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			doc, err := a.svc.Receipt(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			var buf bytes.Buffer
			if err := billing.RenderReceipt(&buf, a.cfg.Clinic(), doc); err != nil {
				return err
			}
			return writeDocument(cmd, buf.Bytes())
		},
	}
	cmd.Flags().StringP("output", "o", "", "Write the HTML to a file instead of stdout")
	return cmd
}

func refundSlipCmd(load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refund-slip <billID> <refundID>",
		Short: "Render the printable slip of a refund",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			doc, err := a.svc.RefundSlip(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			var buf bytes.Buffer
			if err := billing.RenderRefundSlip(&buf, a.cfg.Clinic(), doc); err != nil {
				return err
			}
			return writeDocument(cmd, buf.Bytes())
		},
	}
	cmd.Flags().StringP("output", "o", "", "Write the HTML to a file instead of stdout")
	return cmd
}

func invoiceCmd(load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoice <billID>",
		Short: "Render the completion invoice of a bill",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			v, err := a.svc.Invoice(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			var buf bytes.Buffer
			if err := billing.RenderInvoice(&buf, a.cfg.Clinic(), v); err != nil {
				return err
			}
			return writeDocument(cmd, buf.Bytes())
		},
	}
	cmd.Flags().StringP("output", "o", "", "Write the HTML to a file instead of stdout")
	return cmd
}

func dashboardCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Show today's, this month's and this year's collections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			d, err := a.svc.Dashboard(cmd.Context())
			if err != nil {
				return err
			}
			printDashboard(cmd.OutOrStdout(), d)
			return nil
		},
	}
}

// -- Flags --

func tenderFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("amount", "", "Amount in rupees")
	f.String("date", "", "Date (YYYY-MM-DD), defaults to today")
	f.String("mode", string(billing.ModeCash), "Cash, Cheque, BankTransfer or UPI")
	f.String("ref", "", "Reference number")
	f.String("cheque-no", "", "Cheque number")
	f.String("cheque-date", "", "Cheque date (YYYY-MM-DD)")
	f.String("bank", "", "Bank name")
	f.String("transfer-type", "", "IMPS, NEFT or RTGS")
	f.String("transfer-date", "", "Transfer date (YYYY-MM-DD)")
	f.String("upi-name", "", "UPI account name")
	f.String("upi-id", "", "UPI id")
	f.String("upi-date", "", "UPI date (YYYY-MM-DD)")
	f.String("drawn-on", "", "Drawn on (bank or UPI platform)")
	f.String("drawn-as", "", "Drawn as")
	cmd.MarkFlagRequired("amount")
}

func tenderFromFlags(cmd *cobra.Command) billing.TenderRequest {
	return billing.TenderRequest{
		Mode:         flagString(cmd, "mode"),
		ReferenceNo:  flagString(cmd, "ref"),
		ChequeNumber: flagString(cmd, "cheque-no"),
		ChequeDate:   flagString(cmd, "cheque-date"),
		BankName:     flagString(cmd, "bank"),
		TransferType: flagString(cmd, "transfer-type"),
		TransferDate: flagString(cmd, "transfer-date"),
		UPIName:      flagString(cmd, "upi-name"),
		UPIID:        flagString(cmd, "upi-id"),
		UPIDate:      flagString(cmd, "upi-date"),
		DrawnOn:      flagString(cmd, "drawn-on"),
		DrawnAs:      flagString(cmd, "drawn-as"),
	}
}

func flagString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return strings.TrimSpace(v)
}

// -- Output --

func writeDocument(cmd *cobra.Command, html []byte) error {
	path, _ := cmd.Flags().GetString("output")
	if path == "" {
		_, err := cmd.OutOrStdout().Write(html)
		return err
	}
	if err := os.WriteFile(path, html, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", path)
	return nil
}

func printBillList(w io.Writer, rows []*billing.Summary, total int) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BILL\tDATE\tPATIENT\tTOTAL\tPAID\tBALANCE\tSTATUS")
	for _, r := range rows {
		number := r.InvoiceNo
		if number == "" {
			number = billing.PadBillNumber(r.ID)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			number, r.Display.Date, r.PatientName,
			billing.FormatMoney(r.Totals.Total),
			billing.FormatMoney(r.Totals.DisplayPaid()),
			balanceColumn(r.Totals, r.Capabilities),
			r.Status)
	}
	tw.Flush()
	fmt.Fprintf(w, "%d of %d bills\n", len(rows), total)
}

func balanceColumn(t billing.Totals, c billing.Capabilities) string {
	if !c.ShowBalance {
		return billing.CompletedLabel
	}
	return billing.FormatMoney(t.Balance)
}

func printBill(w io.Writer, v billing.View) {
	b := v.Bill
	fmt.Fprintf(w, "Bill %s  %s  %s\n", b.Number(), v.Display.Date, v.Status)
	fmt.Fprintf(w, "Patient: %s", b.PatientName)
	if details := joinNonEmpty(", ", b.Sex, b.Age); details != "" {
		fmt.Fprintf(w, " (%s)", details)
	}
	fmt.Fprintln(w)
	if b.Address != "" {
		fmt.Fprintf(w, "Address: %s\n", b.Address)
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSERVICE\tDETAILS\tQTY\tRATE\tAMOUNT")
	for i, li := range b.Services {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", i+1, li.Item, li.Details,
			li.Quantity.String(), billing.FormatMoney(li.Rate), billing.FormatMoney(li.Amount()))
	}
	tw.Flush()

	if len(b.Payments) > 0 {
		fmt.Fprintln(w)
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "PAYMENT\tRECEIPT\tDATE\tAMOUNT\tMODE\tREF")
		for _, p := range b.Payments {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", orDash(p.ID), orDash(p.ReceiptNo),
				billing.FormatDate(p.Date), billing.FormatMoney(p.Amount), p.Mode, orDash(p.InstrumentRef()))
		}
		tw.Flush()
	}
	if len(b.Refunds) > 0 {
		fmt.Fprintln(w)
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "REFUND\tDATE\tAMOUNT\tMODE")
		for _, r := range b.Refunds {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", orDash(r.RefundNo),
				billing.FormatDate(r.Date), billing.FormatMoney(r.Amount), r.Mode)
		}
		tw.Flush()
	}

	fmt.Fprintln(w)
	printTotals(w, v)
	if b.Remarks != "" {
		fmt.Fprintf(w, "Remarks: %s\n", b.Remarks)
	}
}

func printTotals(w io.Writer, v billing.View) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Total\t%s\n", v.Display.Total)
	fmt.Fprintf(tw, "Paid\t%s\n", v.Display.Paid)
	fmt.Fprintf(tw, "Refunded\t%s\n", v.Display.Refunded)
	fmt.Fprintf(tw, "Balance\t%s\n", v.Display.Balance)
	tw.Flush()
}

func printDashboard(w io.Writer, d *billing.Dashboard) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PERIOD\tPAYMENTS\tCOUNT\tREFUNDS\tCOUNT\tNET")
	for _, p := range []billing.Period{d.Today, d.Month, d.Year} {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%d\t%s\n", p.Label,
			billing.FormatMoney(p.PaymentsTotal), p.PaymentsCount,
			billing.FormatMoney(p.RefundsTotal), p.RefundsCount,
			billing.FormatMoney(p.NetTotal))
	}
	tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func joinNonEmpty(sep string, vals ...string) string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if v != "" {
			out = append(out, v)
		}
	}
	return strings.Join(out, sep)
}
