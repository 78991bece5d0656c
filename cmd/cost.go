package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/thotem-cli/internal/config"
	"github.com/sells-group/thotem-cli/internal/cost"
	"github.com/sells-group/thotem-cli/internal/export"
)

var (
	costPlan   = cost.DefaultPlan()
	costSweep  int
	costFormat string
)

var costCmd = &cobra.Command{
	Use:   "cost",
	Short: "Estimate the weekly AWS cost of running ingestion on EC2",
	RunE: func(cmd *cobra.Command, args []string) error {
		calc := cost.NewCalculator(ratesFromConfig(cfg.Pricing))
		out := cmd.OutOrStdout()

		if costSweep > 0 {
			return writeSweep(out, costFormat, calc.Sweep(costPlan, costSweep))
		}
		return writeBreakdown(out, costFormat, calc.Weekly(costPlan))
	},
}

func ratesFromConfig(p config.PricingConfig) cost.Rates {
	ec2 := make(map[string]float64, len(p.Instances)+1)
	for _, in := range p.Instances {
		ec2[in.Type] = in.PerHour
	}
	if p.DefaultPerHour > 0 {
		ec2["default"] = p.DefaultPerHour
	}
	return cost.Rates{
		EC2PerHour:        ec2,
		NATGatewayPerHour: p.NATGatewayPerHour,
		NATDataPerGB:      p.NATDataPerGB,
		S3PerGBMonth:      p.S3PerGBMonth,
		S3DataOutPerGB:    p.S3DataOutPerGB,
	}
}

func writeBreakdown(out io.Writer, format string, b cost.Breakdown) error {
	switch format {
	case "json":
		return export.EncodeJSON(out, b)
	case "table", "":
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintf(w, "EC2:\t$%.4f\n", b.EC2)
		_, _ = fmt.Fprintf(w, "NAT gateway:\t$%.4f\n", b.NATGateway)
		_, _ = fmt.Fprintf(w, "NAT data:\t$%.4f\n", b.NATData)
		_, _ = fmt.Fprintf(w, "S3 storage:\t$%.4f\n", b.S3Storage)
		_, _ = fmt.Fprintf(w, "S3 data out:\t$%.4f\n", b.S3DataOut)
		_, _ = fmt.Fprintf(w, "Total per week:\t$%.4f\n", b.Total)
		return w.Flush()
	default:
		return eris.Errorf("unknown format %q (want table or json)", format)
	}
}

func writeSweep(out io.Writer, format string, points []cost.SweepPoint) error {
	switch format {
	case "json":
		return export.EncodeJSON(out, points)
	case "table", "":
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "INSTANCES\tWEEKLY")
		for _, p := range points {
			_, _ = fmt.Fprintf(w, "%d\t$%.4f\n", p.Instances, p.Total)
		}
		return w.Flush()
	default:
		return eris.Errorf("unknown format %q (want table or json)", format)
	}
}

func init() {
	f := costCmd.Flags()
	f.Float64Var(&costPlan.EC2HoursPerDay, "ec2-hours", costPlan.EC2HoursPerDay, "hours per day each instance runs")
	f.IntVar(&costPlan.EC2Instances, "instances", costPlan.EC2Instances, "number of EC2 instances")
	f.StringVar(&costPlan.InstanceType, "instance-type", costPlan.InstanceType, "EC2 instance type")
	f.BoolVar(&costPlan.UseNATGateway, "nat", costPlan.UseNATGateway, "route traffic through a NAT gateway")
	f.Float64Var(&costPlan.NATHoursPerDay, "nat-hours", costPlan.NATHoursPerDay, "hours per day the NAT gateway runs")
	f.Float64Var(&costPlan.S3StorageGB, "s3-gb", costPlan.S3StorageGB, "GB stored in S3")
	f.Float64Var(&costPlan.DataOutGB, "data-out-gb", costPlan.DataOutGB, "GB transferred out of S3 per week")
	f.IntVar(&costPlan.IPRotationsPerDay, "ip-rotations", costPlan.IPRotationsPerDay, "IP rotations per day (1 GB each through the NAT)")
	f.IntVar(&costSweep, "sweep", 0, "print the weekly total for 1..N instances instead")
	f.StringVar(&costFormat, "format", "table", "output format: table or json")
	rootCmd.AddCommand(costCmd)
}
